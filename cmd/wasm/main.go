//go:build js && wasm

package main

import (
	"context"
	"fmt"
	"strconv"
	"syscall/js"

	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorEngine
	ErrorTooShort
)

var engine *fingerprint.Engine

// generateFingerprints computes band-peak fingerprints of mono or
// interleaved stereo samples. Fingerprints are returned as decimal strings
// because they do not fit a JavaScript number.
// Returns: {error: number, data: string[] | string}
func generateFingerprints(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 2 arguments: audioArray, channels")
	}

	audioDataJS := args[0]
	channelsJS := args[1]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float32Array")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	channels := channelsJS.Int()
	if channels < 1 || channels > 2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Channels must be 1 (mono) or 2 (stereo), got: %d", channels))
	}

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	samples := make([]float32, length)
	for i := 0; i < length; i++ {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		samples[i] = float32(val.Float())
	}

	if channels == 2 {
		samples = stereoToMono(samples)
	}

	fps, err := engine.Analyze(context.Background(), samples)
	if err != nil {
		return makeErrorResponse(ErrorEngine, fmt.Sprintf("Failed to fingerprint audio: %v", err))
	}
	if len(fps) == 0 {
		return makeErrorResponse(ErrorTooShort, fmt.Sprintf("Audio is shorter than one %d-sample window", engine.WindowSize()))
	}

	out := js.Global().Get("Array").New(len(fps))
	for i, fp := range fps {
		out.SetIndex(i, strconv.FormatUint(uint64(fp), 10))
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", out)
	return result
}

func stereoToMono(stereo []float32) []float32 {
	if len(stereo)%2 != 0 {
		stereo = stereo[:len(stereo)-1]
	}

	mono := make([]float32, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) / 2
	}
	return mono
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")

	var err error
	engine, err = fingerprint.New(fingerprint.DefaultConfig())
	if err != nil {
		if !console.IsUndefined() {
			console.Call("error", "bandprint engine failed: "+err.Error())
		}
		return
	}

	js.Global().Set("generateFingerprints", js.FuncOf(generateFingerprints))

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		event := js.Global().Get("CustomEvent").New("wasmReady", js.Global().Get("Object").New())
		window.Call("dispatchEvent", event)
	} else if !console.IsUndefined() {
		console.Call("error", "window object is undefined")
	}

	if !console.IsUndefined() {
		console.Call("log", "bandprint WASM module loaded and ready")
	}

	select {}
}
