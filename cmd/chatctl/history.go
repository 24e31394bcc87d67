package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/format"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/session"
)

func newListCmd(cfg *config.Config, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeStore, err := openManager(cmd.Context(), cfg, opts, session.WithResumeLatest(false))
			if err != nil {
				return err
			}
			defer closeStore()

			printConversations(cmd, m.Conversations(), time.Now())
			return nil
		},
	}
}

func printConversations(cmd *cobra.Command, conversations []model.Conversation, now time.Time) {
	out := cmd.OutOrStdout()
	if len(conversations) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return
	}
	for i, c := range conversations {
		fmt.Fprintf(out, "%3d  %-18s %-10s %s\n", i, c.Title, format.RelativeDate(c.LastUpdated, now), c.Preview)
	}
}

func newTranscriptCmd(cfg *config.Config, opts *options) *cobra.Command {
	var outDir string
	var toStdout bool

	cmd := &cobra.Command{
		Use:   "transcript [index]",
		Short: "Write a conversation transcript to a text file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid index %q", args[0])
				}
				index = n
			}

			m, closeStore, err := openManager(cmd.Context(), cfg, opts, session.WithResumeLatest(false))
			if err != nil {
				return err
			}
			defer closeStore()

			if !m.LoadConversation(cmd.Context(), index) {
				return fmt.Errorf("no conversation at index %d", index)
			}
			return writeTranscript(cmd, m, outDir, toStdout)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory the transcript is written to")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "print the transcript instead of writing a file")
	return cmd
}

func writeTranscript(cmd *cobra.Command, m *session.Manager, outDir string, toStdout bool) error {
	transcript, err := m.DownloadTranscript()
	if err != nil {
		return err
	}
	if toStdout {
		fmt.Fprint(cmd.OutOrStdout(), transcript.Content)
		return nil
	}

	path := filepath.Join(outDir, transcript.Filename)
	if err := os.WriteFile(path, []byte(transcript.Content), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Transcript saved to %s\n", path)
	return nil
}
