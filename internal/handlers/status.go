package handlers

import (
	"embed"
	"io/fs"
	"net/http"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
)

//go:embed views/*.html
var viewsFS embed.FS

func newViews() *html.Engine {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	return html.NewFileSystem(http.FS(sub), ".html")
}

type unreadRow struct {
	ID    string
	Count int
}

// StatusHandler GET / renders a plain page with the connection banner and
// unread counts.
func (g *Gateway) StatusHandler(c *fiber.Ctx) error {
	st := g.coord.Status()
	counts := g.coord.UnreadCounts()
	rows := make([]unreadRow, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, unreadRow{ID: id, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	return c.Render("status", fiber.Map{
		"SelfID":    g.coord.SelfID(),
		"State":     st.State,
		"LastError": st.LastError,
		"Active":    g.coord.ActiveConversation(),
		"Total":     g.coord.TotalUnread(),
		"Unread":    rows,
	})
}
