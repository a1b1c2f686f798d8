// Package shell is a line-oriented terminal front end for one library
// session. Each input line is a command; the list is redrawn whenever the
// catalog or the search query changes.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"SmartLibrary/internal/library"
)

var ErrUnknownCommand = errors.New("unknown command")

const prompt = "> "

const helpText = `commands:
  search [text]      filter by title (no text shows everything)
  title <text>       set the new book's title
  author <text>      set the new book's author
  category <label>   Book Case | No Noise | Sports
  add                add the drafted book
  list               show matching books
  all                show every book
  draft              show the drafted book
  help               show this help
  quit               leave
`

type Shell struct {
	lib *library.Session
	out io.Writer
	log *zap.Logger
}

func New(lib *library.Session, out io.Writer, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shell{lib: lib, out: out, log: log}
}

// Run reads commands from in until quit, EOF or ctx is done. A cancelled ctx
// returns immediately even while a read is pending; the reader goroutine is
// left to finish on its own.
func (sh *Shell) Run(ctx context.Context, in io.Reader) error {
	sh.render(sh.lib.Visible())
	fmt.Fprint(sh.out, prompt)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}

			quit, err := sh.Exec(line)
			if err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			fmt.Fprint(sh.out, prompt)
		}
	}
}

// Exec runs a single command line.
func (sh *Shell) Exec(line string) (quit bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	cmd, arg, _ := strings.Cut(strings.TrimLeft(line, " \t"), " ")

	switch strings.ToLower(cmd) {
	case "":
	case "search":
		sh.lib.SetQuery(arg)
		sh.render(sh.lib.Visible())
	case "title":
		sh.lib.SetDraftField(library.FieldTitle, arg)
		sh.renderDraft()
	case "author":
		sh.lib.SetDraftField(library.FieldAuthor, arg)
		sh.renderDraft()
	case "category":
		c, err := matchCategory(arg)
		if err != nil {
			return false, err
		}
		sh.lib.SetDraftCategory(c)
		sh.renderDraft()
	case "add":
		if b, ok := sh.lib.Add(); ok {
			sh.log.Debug("book added", zap.String("book_id", b.ID))
		}
		sh.render(sh.lib.Visible())
		sh.renderDraft()
	case "list":
		sh.render(sh.lib.Visible())
	case "all":
		sh.render(sh.lib.Books())
	case "draft":
		sh.renderDraft()
	case "help", "?":
		fmt.Fprint(sh.out, helpText)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q (try help)", ErrUnknownCommand, cmd)
	}
	return false, nil
}

// matchCategory accepts a label regardless of case.
func matchCategory(s string) (library.Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range library.Categories() {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return library.ParseCategory(s)
}

func (sh *Shell) render(books []library.Book) {
	header := fmt.Sprintf("Smart Library: %d of %d books", len(books), sh.lib.Len())
	if q := sh.lib.Query(); q != "" {
		header += fmt.Sprintf(" matching %q", q)
	}
	fmt.Fprintln(sh.out, header)

	if len(books) == 0 {
		fmt.Fprintln(sh.out, "  (no books)")
		return
	}

	tw := tabwriter.NewWriter(sh.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  TITLE\tAUTHOR\tCATEGORY")
	for _, b := range books {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", b.Title, b.Author, b.Category)
	}
	_ = tw.Flush()
}

func (sh *Shell) renderDraft() {
	d := sh.lib.Draft()
	fmt.Fprintf(sh.out, "draft: title=%q author=%q category=%s\n", d.Title, d.Author, d.Category)
}
