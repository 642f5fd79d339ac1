package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ssau-fiit/cloudocs-sync/collab"
	"github.com/ssau-fiit/cloudocs-sync/credential"
	"github.com/ssau-fiit/cloudocs-sync/metadata"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/ssau-fiit/cloudocs-sync/richtext"
)

var (
	editShareToken string
	editAutosave   time.Duration
)

var editCmd = &cobra.Command{
	Use:   "edit <document-id>",
	Short: "Open a document and edit it from stdin",
	Long: `Open a document for collaborative editing. Every line read from stdin is
appended to the document. Lines starting with a colon are commands:

  :title <text>    rename the document
  :cursor <n> [m]  move the cursor to n, selecting m characters
  :delete <n> [m]  delete m characters (default 1) at n
  :show            print the document
  :who             list collaborators
  :status          print connection and save state
  :share [perm]    create a viewer or editor share link
  :quit            close the document`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringVar(&editShareToken, "share", "", "open with a share token instead of the stored credential")
	editCmd.Flags().DurationVar(&editAutosave, "autosave", collab.DefaultAutosaveInterval, "snapshot save interval")
}

func runEdit(cmd *cobra.Command, args []string) error {
	opts := collab.Options{
		ServerURL:        serverURL,
		DocumentID:       args[0],
		ShareToken:       editShareToken,
		AutosaveInterval: editAutosave,
	}
	if editShareToken == "" {
		cred, err := credential.Current()
		if errors.Is(err, credential.ErrMissing) {
			return errors.New("not signed in, run cloudocs login or pass --share")
		}
		if err != nil {
			return err
		}
		opts.Token = cred.Token
		opts.ServerURL = serverFor(cred)
	}

	term := newTerminal(cmd.OutOrStdout())
	opts.Surface = term
	opts.Observer = term
	opts.OnTerminate = func(err error) {
		if !errors.Is(err, collab.ErrAuthInvalid) || opts.Token == "" {
			return
		}
		if err := credential.Logout(); err != nil {
			log.Error().Err(err).Msg("failed to drop rejected credential")
		}
	}

	session, err := collab.NewSession(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- session.Run(ctx) }()
	go func() {
		newConsole(session, cmd.OutOrStdout()).run(ctx, cmd.InOrStdin())
		stop()
	}()

	err = <-errc
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, collab.ErrAuthInvalid) {
		return errors.New("the server rejected the credential, sign in again")
	}
	return err
}

// editor is the part of collab.Session the console drives.
type editor interface {
	LocalEdit(op richtext.Delta) error
	AppendText(text string) error
	SetTitle(title string) error
	SelectionChanged(r *protocol.CursorRange) error
	Snapshot() (richtext.Delta, error)
	State() (collab.State, error)
	ShareLink(ctx context.Context, permission string) (metadata.ShareLink, error)
}

var errQuit = errors.New("quit")

type console struct {
	ed  editor
	out io.Writer
}

func newConsole(ed editor, out io.Writer) *console {
	return &console{ed: ed, out: out}
}

func (c *console) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := c.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) || errors.Is(err, collab.ErrClosed) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "! %v\n", err)
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, ":") {
		return c.appendLine(line)
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "q":
		return errQuit
	case "title":
		return c.ed.SetTitle(rest)
	case "cursor":
		index, length, err := parseRange(rest, 0)
		if err != nil {
			return err
		}
		return c.ed.SelectionChanged(&protocol.CursorRange{Index: index, Length: length})
	case "delete":
		index, length, err := parseRange(rest, 1)
		if err != nil {
			return err
		}
		return c.ed.LocalEdit(richtext.New().Retain(index, nil).Delete(length))
	case "show":
		doc, err := c.ed.Snapshot()
		if err != nil {
			return err
		}
		fmt.Fprint(c.out, doc.Text())
		return nil
	case "who":
		st, err := c.ed.State()
		if err != nil {
			return err
		}
		for _, u := range st.Roster {
			fmt.Fprintf(c.out, "%s\t%s\n", u.Name, u.Color)
		}
		return nil
	case "status":
		st, err := c.ed.State()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s, %s, %q\n", st.Connection, st.Status, st.Title)
		return nil
	case "share":
		permission := rest
		if permission == "" {
			permission = protocol.PermissionViewer
		}
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		link, err := c.ed.ShareLink(ctx, permission)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, link.URL)
		return nil
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (c *console) appendLine(line string) error {
	return c.ed.AppendText(line + "\n")
}

func parseRange(s string, defaultLength int) (int, int, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, errors.New("expected <index> [length]")
	}
	index, err := strconv.Atoi(fields[0])
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("bad index %q", fields[0])
	}
	length := defaultLength
	if len(fields) == 2 {
		length, err = strconv.Atoi(fields[1])
		if err != nil || length < 0 {
			return 0, 0, fmt.Errorf("bad length %q", fields[1])
		}
	}
	return index, length, nil
}

// terminal is a line-oriented Surface and Observer. Remote changes are
// reported, not rendered; :show prints the working copy.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) SetContents(doc richtext.Delta) {
	t.printf("--- document loaded (%d characters) ---\n%s", doc.Length(), doc.Text())
}

func (t *terminal) UpdateContents(change richtext.Delta) {
	var inserted, deleted int
	for _, op := range change.Ops {
		switch op.Type() {
		case richtext.OpTypeInsert:
			inserted += len([]rune(op.Insert))
		case richtext.OpTypeDelete:
			deleted += op.Delete
		}
	}
	t.printf("* remote edit: +%d -%d\n", inserted, deleted)
}

func (t *terminal) SetEditable(editable bool) {
	if !editable {
		t.printf("* read-only\n")
	}
}

func (t *terminal) ShowOffline(offline bool) {
	if offline {
		t.printf("* offline, edits will be saved on reconnect\n")
	}
}

func (t *terminal) ConnectionChanged(state collab.ConnState) {
	t.printf("* %s\n", state)
}

func (t *terminal) StatusChanged(status collab.SyncStatus) {
	log.Debug().Str("status", status.String()).Msg("sync status")
}

func (t *terminal) RosterChanged(users []protocol.ActiveUser) {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	t.printf("* editing: %s\n", strings.Join(names, ", "))
}

func (t *terminal) TitleChanged(title string) {
	t.printf("* title: %s\n", title)
}

func (t *terminal) CursorMoved(cursor protocol.CursorUpdate) {
	log.Debug().Str("user", cursor.Name).Int("index", cursor.Index).Int("length", cursor.Length).Msg("cursor moved")
}

func (t *terminal) Notify(err error) {
	t.printf("! %v\n", err)
}
