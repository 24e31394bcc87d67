package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/format"
	"github.com/innovaquest/webchat/internal/model"
	"github.com/innovaquest/webchat/internal/session"
)

const chatHelp = `Commands:
  /new              start a new conversation
  /list             list saved conversations
  /load N           switch to conversation N
  /attach PATH      attach a file to the next message
  /detach ID        remove a pending attachment
  /files            show pending attachments
  /transcript       save the current conversation to a text file
  /quit             leave
Anything else is sent as a message.`

func newChatCmd(cfg *config.Config, opts *options) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			m, closeStore, err := openManager(cmd.Context(), cfg, opts,
				session.WithObserver(printer(out)))
			if err != nil {
				return err
			}
			defer closeStore()

			r := &repl{cmd: cmd, out: out, manager: m, outDir: outDir}
			return r.run(cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory transcripts are written to")
	return cmd
}

// printer renders manager events as terminal lines.
func printer(out io.Writer) session.Observer {
	return session.ObserverFunc(func(ev model.Event) {
		switch ev.Type {
		case model.EventMessageAppended:
			if ev.Message != nil && !ev.Message.FromVisitor() {
				printMessage(out, *ev.Message)
			}
		case model.EventLoadingStarted:
			fmt.Fprintln(out, "  ...")
		case model.EventAttachmentAdded:
			if ev.Attachment != nil {
				fmt.Fprintf(out, "  attached %s (%s) as %s\n", ev.Attachment.Name, format.FileSize(ev.Attachment.Size), ev.AttachID)
			}
		case model.EventAttachmentRejected:
			if ev.Rejection != nil {
				fmt.Fprintf(out, "  %s\n", ev.Rejection.Message)
			}
		}
	})
}

func printMessage(out io.Writer, msg model.Message) {
	fmt.Fprintf(out, "[%s] %s: %s\n", msg.Timestamp, msg.Sender, msg.Message)
	for _, f := range msg.Files {
		fmt.Fprintf(out, "  Attachment: %s\n", f)
	}
}

type repl struct {
	cmd     *cobra.Command
	out     io.Writer
	manager *session.Manager
	outDir  string
}

func (r *repl) run(in io.Reader) error {
	if r.manager.SessionID() == "" {
		fmt.Fprintln(r.out, "No conversation yet. Type /new to start one, /help for commands.")
	} else {
		for _, msg := range r.manager.Messages() {
			printMessage(r.out, msg)
		}
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			r.send(line)
			continue
		}

		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(r.out, chatHelp)
		case "/new":
			// failures are reported through the appended bot message
			_ = r.manager.StartNewConversation(r.cmd.Context())
		case "/list":
			printConversations(r.cmd, r.manager.Conversations(), time.Now())
		case "/load":
			r.load(arg)
		case "/attach":
			r.attach(arg)
		case "/detach":
			if !r.manager.Detach(arg) {
				fmt.Fprintf(r.out, "No pending attachment %q.\n", arg)
			}
		case "/files":
			r.files()
		case "/transcript":
			if err := writeTranscript(r.cmd, r.manager, r.outDir, false); err != nil {
				fmt.Fprintln(r.out, err)
			}
		default:
			fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", name)
		}
	}
}

func (r *repl) send(text string) {
	err := r.manager.Send(r.cmd.Context(), text)
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		fmt.Fprintln(r.out, "Type a message or attach a file.")
	case errors.Is(err, session.ErrNoSession):
		fmt.Fprintln(r.out, "No conversation yet. Type /new to start one.")
	}
}

func (r *repl) load(arg string) {
	index, err := strconv.Atoi(arg)
	if err != nil || !r.manager.LoadConversation(r.cmd.Context(), index) {
		fmt.Fprintf(r.out, "No conversation %q. Type /list to see them.\n", arg)
		return
	}
	for _, msg := range r.manager.Messages() {
		printMessage(r.out, msg)
	}
}

func (r *repl) attach(path string) {
	if path == "" {
		fmt.Fprintln(r.out, "Usage: /attach PATH")
		return
	}
	f, err := model.FileFromPath(path, filepath.Base(path), contentTypeFor(path))
	if err != nil {
		fmt.Fprintln(r.out, err)
		return
	}
	r.manager.Attach(f)
}

func (r *repl) files() {
	pending := r.manager.Attachments()
	if len(pending) == 0 {
		fmt.Fprintln(r.out, "No pending attachments.")
		return
	}
	for _, a := range pending {
		fmt.Fprintf(r.out, "  %s  %s (%s)\n", a.ID, a.File.Name, format.FileSize(a.File.Size))
	}
}

func init() {
	// not in Go's built-in table
	_ = mime.AddExtensionType(".csv", "text/csv")
}

// contentTypeFor guesses the media type from the extension, without parameters.
func contentTypeFor(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}
