package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/fruitsalade/mediabrowser/pkg/navigator"
	"github.com/fruitsalade/mediabrowser/pkg/protocol"
)

const defaultWidth = 100

// serviceStatus is the connection and cache view printed by "status".
// *client.Client implements it.
type serviceStatus interface {
	Health(ctx context.Context) (*protocol.HealthResponse, error)
	IsOnline() bool
	CacheStats() (entries int, hits, misses uint64)
}

type shell struct {
	store  *navigator.Store
	status serviceStatus
	out    io.Writer
	width  int
}

var errUsage = errors.New("usage")

const help = `Commands:
  ls                     show the current listing
  cd <path>              change folder (relative or absolute)
  more                   load the next page
  refresh                reload page 1 from the service
  sort <field> <order>   field: name|createdAt|size, order: asc|desc
  search [prefix]        filter by name prefix (no argument clears)
  scope on|off           search the current folder only, or the whole tree
  zoom <factor>          preview zoom between 0.1 and 1
  select <id>            toggle selection of an item
  mkdir <name>           create a folder here
  upload <url> <name>    store a remote file here
  mv <id> <new-id>       rename a file
  rm [id...]             delete files, or the selection
  url                    print the shareable location
  status                 check the service and show cache use
  quit                   exit`

// exec runs one command and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, args []string) (bool, error) {
	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "ls":
		sh.render()
		return false, nil
	case "cd":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: cd <path>", errUsage)
		}
		err = sh.store.Navigate(ctx, rest[0])
	case "more":
		var loaded bool
		loaded, err = sh.store.LoadMore(ctx)
		if err == nil && !loaded && !sh.store.State().HasMore {
			fmt.Fprintln(sh.out, "No more items.")
			return false, nil
		}
	case "refresh":
		err = sh.store.Refresh(ctx)
	case "sort":
		if len(rest) != 2 {
			return false, fmt.Errorf("%w: sort <name|createdAt|size> <asc|desc>", errUsage)
		}
		err = sh.store.SetSort(ctx, rest[0], rest[1])
	case "search":
		err = sh.store.SetSearch(ctx, strings.Join(rest, " "))
	case "scope":
		if len(rest) != 1 || (rest[0] != "on" && rest[0] != "off") {
			return false, fmt.Errorf("%w: scope on|off", errUsage)
		}
		err = sh.store.SetScope(ctx, rest[0] == "on")
	case "zoom":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: zoom <factor>", errUsage)
		}
		z, perr := strconv.ParseFloat(rest[0], 64)
		if perr != nil {
			return false, fmt.Errorf("zoom: %w", perr)
		}
		sh.store.SetZoom(ctx, z)
		fmt.Fprintf(sh.out, "Zoom %.2f\n", sh.store.State().Zoom)
		return false, nil
	case "select":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: select <id>", errUsage)
		}
		if sh.store.ToggleSelect(rest[0]) {
			fmt.Fprintf(sh.out, "Selected %s\n", rest[0])
		} else {
			fmt.Fprintf(sh.out, "Deselected %s\n", rest[0])
		}
		return false, nil
	case "mkdir":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: mkdir <name>", errUsage)
		}
		err = sh.store.CreateFolder(ctx, rest[0])
	case "upload":
		if len(rest) != 2 {
			return false, fmt.Errorf("%w: upload <url> <name>", errUsage)
		}
		err = sh.store.Upload(ctx, rest[0], rest[1])
	case "mv":
		if len(rest) != 2 {
			return false, fmt.Errorf("%w: mv <id> <new-id>", errUsage)
		}
		err = sh.store.Rename(ctx, rest[0], rest[1])
	case "rm":
		err = sh.store.Delete(ctx, rest...)
	case "url":
		fmt.Fprintln(sh.out, sh.store.URL())
		return false, nil
	case "status":
		return false, sh.printStatus(ctx)
	case "help", "?":
		fmt.Fprintln(sh.out, help)
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	if err != nil {
		return false, err
	}
	sh.render()
	return false, nil
}

// render prints the listing as aligned columns.
func (sh *shell) render() {
	st := sh.store.State()

	scope := "folder"
	if !st.Scoped {
		scope = "tree"
	}
	header := fmt.Sprintf("%s  sort=%s %s  page=%d", st.Path, st.SortField, st.SortOrder, st.Page)
	if st.SearchQuery != "" {
		header += fmt.Sprintf("  search=%q (%s)", st.SearchQuery, scope)
	}
	fmt.Fprintln(sh.out, header)

	selected := make(map[string]bool, len(st.Selected))
	for _, id := range st.Selected {
		selected[id] = true
	}

	const (
		markW    = 2
		kindW    = 4
		sizeW    = 9
		createdW = 16
		gaps     = 4
	)
	rest := sh.width - markW - kindW - sizeW - createdW - gaps
	if rest < 20 {
		rest = 20
	}
	nameW := rest * 3 / 5
	pathW := rest - nameW

	for _, it := range st.Items {
		mark := " "
		if selected[it.ID] {
			mark = "*"
		}
		kind := "file"
		if it.Type == protocol.KindFolder {
			kind = "dir"
		}
		fmt.Fprintf(sh.out, "%s %s %s %s %s %s\n",
			mark,
			runewidth.FillRight(kind, kindW),
			cell(it.Name, nameW),
			runewidth.FillLeft(sizeText(it), sizeW),
			runewidth.FillRight(createdText(it), createdW),
			cell(it.Path, pathW),
		)
	}

	more := ""
	if st.HasMore {
		more = "  (more available)"
	}
	fmt.Fprintf(sh.out, "%d shown  files=%d folders=%d%s\n", len(st.Items), st.Totals.Files, st.Totals.Folders, more)
}

func (sh *shell) printStatus(ctx context.Context) error {
	h, err := sh.status.Health(ctx)
	if err != nil {
		fmt.Fprintln(sh.out, "Service unreachable")
	} else {
		fmt.Fprintf(sh.out, "Service %s (backend %s)\n", h.Status, h.Backend)
	}
	entries, hits, misses := sh.status.CacheStats()
	fmt.Fprintf(sh.out, "Online %t  cached pages %d  hits %d  misses %d\n", sh.status.IsOnline(), entries, hits, misses)
	return err
}

func cell(s string, w int) string {
	return runewidth.FillRight(runewidth.Truncate(s, w, "…"), w)
}

func sizeText(it protocol.Item) string {
	if it.Type == protocol.KindFolder {
		return "-"
	}
	const unit = 1024
	n := float64(it.Size)
	for _, suffix := range []string{"B", "K", "M", "G"} {
		if n < unit {
			if suffix == "B" {
				return fmt.Sprintf("%d%s", it.Size, suffix)
			}
			return fmt.Sprintf("%.1f%s", n, suffix)
		}
		n /= unit
	}
	return fmt.Sprintf("%.1fT", n)
}

func createdText(it protocol.Item) string {
	if it.CreatedAt == nil {
		return ""
	}
	return it.CreatedAt.Local().Format("2006-01-02 15:04")
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
