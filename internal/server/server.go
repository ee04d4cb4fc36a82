package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/insightpipe/insightpipe/internal/database"
	"github.com/insightpipe/insightpipe/internal/feedback"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for browsing runs and insights.
type Server struct {
	db        *database.DB
	productID string
	pages     map[string]*template.Template
	mux       *http.ServeMux
}

// New creates a new Server scoped to one product.
func New(db *database.DB, productID string) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"percent": func(v float64) string {
			return fmt.Sprintf("%.0f%%", v*100)
		},
		"join": strings.Join,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "run.html", "events.html", "areas.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, productID: productID, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/run/", s.handleRun)
	s.mux.HandleFunc("/areas", s.handleAreas)
	s.mux.HandleFunc("/areas/add", s.handleAddArea)
	s.mux.HandleFunc("/areas/", s.handleAreaAction)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	runs, err := s.db.ListRuns(s.productID, 50)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"ProductID": s.productID,
		"Runs":      runs,
	})
}

// handleRun serves /run/{id}, /run/{id}/events and /run/{id}/report.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/run/")
	if rest == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	runID, sub, _ := strings.Cut(rest, "/")

	run, err := s.db.GetRun(runID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}

	switch sub {
	case "":
		s.handleRunDetail(w, run)
	case "events":
		s.handleRunEvents(w, r, run)
	case "report":
		s.handleRunReport(w, run)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRunDetail(w http.ResponseWriter, run *database.Run) {
	clusters, _ := s.db.GetClustersForRun(run.ID)
	insights, _ := s.db.GetInsightsForRun(run.ID)

	// Pair each insight with its cluster for the detail view.
	byID := make(map[string]feedback.Cluster, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}
	type insightView struct {
		Insight feedback.Insight
		Cluster feedback.Cluster
	}
	views := make([]insightView, 0, len(insights))
	for _, ins := range insights {
		views = append(views, insightView{Insight: ins, Cluster: byID[ins.ClusterID]})
	}

	s.render(w, "run.html", map[string]any{
		"Run":      run,
		"Clusters": clusters,
		"Insights": views,
	})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request, run *database.Run) {
	typeFilter := r.URL.Query().Get("type")
	evts, err := s.db.GetEventsForRun(run.ID, typeFilter)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	counts, _ := s.db.CountEventsByType(run.ID)

	s.render(w, "events.html", map[string]any{
		"Run":        run,
		"Events":     evts,
		"Counts":     counts,
		"TypeFilter": typeFilter,
	})
}

func (s *Server) handleRunReport(w http.ResponseWriter, run *database.Run) {
	insights, _ := s.db.GetInsightsForRun(run.ID)
	report := RenderReport(run, insights)

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	fmt.Fprint(w, report)
}

func (s *Server) handleAreas(w http.ResponseWriter, r *http.Request) {
	areas, _ := s.db.ListAreasForProduct(s.productID)
	s.render(w, "areas.html", map[string]any{
		"ProductID": s.productID,
		"Areas":     areas,
	})
}

func (s *Server) handleAddArea(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/areas", http.StatusFound)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	description := strings.TrimSpace(r.FormValue("description"))
	var keywords []string
	for _, k := range strings.Split(r.FormValue("keywords"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	if name != "" {
		s.db.InsertArea(feedback.Area{
			ID:          uuid.NewString(),
			ProductID:   s.productID,
			Name:        name,
			Description: description,
			Keywords:    keywords,
		})
	}

	http.Redirect(w, r, "/areas", http.StatusFound)
}

func (s *Server) handleAreaAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/areas", http.StatusFound)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/areas/")
	id, action, _ := strings.Cut(path, "/")
	if id != "" && action == "delete" {
		s.db.DeleteArea(id)
	}

	http.Redirect(w, r, "/areas", http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, productID string, port int) error {
	srv, err := New(db, productID)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
