package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const sessionName = "textcnn"

//go:embed assets
var assets embed.FS

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu    []Link
	Options []Link
	Heading template.HTML
	Flashes []string
	store   sessions.Store
}

type Link struct {
	Url      string
	Name     string
	Selected bool
	Submit   bool
}

// Load and parse templates and initialise main menu. authKey is used to sign the session cookie.
func NewTemplates(authKey []byte) (*Templates, error) {
	var err error
	t := &Templates{Menu: []Link{}, Options: []Link{}}
	t.Template, err = template.ParseFS(assets, "assets/*.html")
	if err != nil {
		return nil, err
	}
	t.store = sessions.NewCookieStore(authKey)
	t.AddMenuItem(Link{Name: "train", Url: "/train/stats"})
	t.AddMenuItem(Link{Name: "samples", Url: "/samples/all/1"})
	t.AddMenuItem(Link{Name: "weights", Url: "/weights"})
	t.AddMenuItem(Link{Name: "config", Url: "/config"})
	return t, nil
}

// Static returns a handler for the files under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
		Options:  append([]Link{}, t.Options...),
		store:    t.store,
	}
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(key.Url, url)
	}
	return t
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

func (t *Templates) SelectOptions(names []string) *Templates {
	for i, key := range t.Options {
		t.Options[i].Selected = false
		for _, name := range names {
			if key.Name == name {
				t.Options[i].Selected = true
			}
		}
	}
	return t
}

// Flash saves a message in the session to be displayed on the next page.
func (t *Templates) Flash(w http.ResponseWriter, r *http.Request, msg string) {
	session, err := t.store.Get(r, sessionName)
	if err != nil {
		logger.Warn("get session", zap.Error(err))
	}
	session.AddFlash(msg)
	if err = session.Save(r, w); err != nil {
		logger.Warn("save session", zap.Error(err))
	}
}

// Exec executes the named template with any pending flash messages.
func (t *Templates) Exec(w http.ResponseWriter, r *http.Request, name string, data interface{}) {
	t.Flashes = t.Flashes[:0]
	if session, err := t.store.Get(r, sessionName); err == nil {
		for _, f := range session.Flashes() {
			t.Flashes = append(t.Flashes, fmt.Sprint(f))
		}
		if len(t.Flashes) > 0 {
			if err = session.Save(r, w); err != nil {
				logger.Warn("save session", zap.Error(err))
			}
		}
	}
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

func logError(w http.ResponseWriter, err error) {
	logger.Error("web", zap.Error(err))
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
