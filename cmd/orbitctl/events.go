package main

import (
	"context"
	"fmt"

	"github.com/orbitctl/orbit/pkg/events"
	"github.com/spf13/cobra"
)

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream cluster events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := connect(cmd)
		return c.StreamEvents(context.Background(), func(ev *events.Event) {
			fmt.Printf("%s  %-24s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Message)
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Observe cluster events",
}

func init() {
	eventsCmd.AddCommand(eventsWatchCmd)
	rootCmd.AddCommand(eventsCmd)
}
