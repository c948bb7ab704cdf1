package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var songsCmd = &cobra.Command{
	Use:   "songs",
	Short: "List indexed songs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		songs, err := svc.Songs(cmd.Context())
		if err != nil {
			return err
		}
		if len(songs) == 0 {
			fmt.Println("No songs indexed")
			return nil
		}
		for i, id := range songs {
			fmt.Printf("%d. %s\n", i+1, id)
		}
		return nil
	},
}
