package editor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/sandbox"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// Server serves the skill editing API. Every response carries a
// "success" flag; failures add an "error" message.
type Server struct {
	registry  *skills.Registry
	sandbox   *sandbox.Executor
	validator *Validator
	logger    *zap.Logger
}

// NewServer wires the editor over an existing registry and sandbox.
func NewServer(registry *skills.Registry, executor *sandbox.Executor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry:  registry,
		sandbox:   executor,
		validator: NewValidator(executor.Check),
		logger:    logger,
	}
}

// Router builds the chi router with all editor routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api/skills", func(r chi.Router) {
		r.Get("/", s.listSkills)
		r.Post("/", s.createSkill)
		r.Get("/roles", s.listRoles)
		r.Get("/export", s.exportSkills)
		r.Post("/import", s.importSkills)
		r.Post("/validate", s.validateSkill)
		r.Post("/test", s.testSkill)
		r.Get("/{name}", s.getSkill)
		r.Put("/{name}", s.updateSkill)
		r.Delete("/{name}", s.deleteSkill)
	})

	return r
}

// Serve runs the editor until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info("skill editor listening", zap.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"skills":  s.skillMap(),
	})
}

func (s *Server) getSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	skill, err := s.registry.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "skill not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"skill":   skill,
	})
}

func (s *Server) createSkill(w http.ResponseWriter, r *http.Request) {
	var skill skills.Skill
	if err := json.NewDecoder(r.Body).Decode(&skill); err != nil {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}
	if missing := firstMissingField(&skill); missing != "" {
		writeError(w, http.StatusBadRequest, "missing required field: "+missing)
		return
	}
	if _, err := s.registry.Get(skill.Name); err == nil {
		writeError(w, http.StatusConflict, "skill already exists")
		return
	}

	if result := s.validator.Validate(&skill); !result.Valid {
		writeValidationFailure(w, result)
		return
	}

	skill.Verified = false
	if err := s.registry.Register(&skill); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.logger.Info("editor created skill", zap.String("name", skill.Name))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "skill created successfully",
		"skill_name": skill.Name,
	})
}

func (s *Server) updateSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var patch skills.Skill
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}

	existing, err := s.registry.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "skill not found")
		return
	}
	if existing.Verified {
		writeError(w, http.StatusForbidden, "cannot modify built-in skill")
		return
	}

	patch.Name = name
	if result := s.validator.Validate(&patch); !result.Valid {
		writeValidationFailure(w, result)
		return
	}

	if err := s.registry.Update(name, &patch); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.logger.Info("editor updated skill", zap.String("name", name))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "skill updated successfully",
	})
}

func (s *Server) deleteSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.registry.Remove(name); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.logger.Info("editor deleted skill", zap.String("name", name))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "skill deleted successfully",
	})
}

func (s *Server) validateSkill(w http.ResponseWriter, r *http.Request) {
	var skill skills.Skill
	if err := json.NewDecoder(r.Body).Decode(&skill); err != nil {
		writeError(w, http.StatusBadRequest, "no data provided")
		return
	}
	result := s.validator.Validate(&skill)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"is_valid": result.Valid,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// testSkill compiles and runs unsaved skill data in the sandbox and
// returns its log output. Execution failure is a successful API call
// with execution_successful=false.
func (s *Server) testSkill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SkillData *skills.Skill          `json:"skill_data"`
		TestInput map[string]interface{} `json:"test_input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SkillData == nil {
		writeError(w, http.StatusBadRequest, "no skill data provided")
		return
	}

	if result := s.validator.Validate(req.SkillData); !result.Valid {
		writeValidationFailure(w, result)
		return
	}

	logs, err := s.sandbox.Run(r.Context(), req.SkillData.Name, req.SkillData.Source, req.TestInput)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":              true,
			"execution_successful": false,
			"error":                err.Error(),
			"message":              "skill compilation or execution failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":              true,
		"execution_successful": true,
		"output":               logs,
		"message":              "skill executed successfully",
	})
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"roles":   skills.Roles,
	})
}

func (s *Server) exportSkills(w http.ResponseWriter, r *http.Request) {
	m := s.skillMap()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"export_date":  time.Now().UTC().Format(time.RFC3339),
		"skills_count": len(m),
		"skills":       m,
	})
}

// importSkills registers every new valid skill from an export payload,
// skipping names that already exist.
func (s *Server) importSkills(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Skills map[string]*skills.Skill `json:"skills"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Skills == nil {
		writeError(w, http.StatusBadRequest, "invalid import data")
		return
	}

	names := make([]string, 0, len(req.Skills))
	for name := range req.Skills {
		names = append(names, name)
	}
	sort.Strings(names)

	imported := 0
	importErrors := []string{}
	for _, name := range names {
		skill := req.Skills[name]
		if skill == nil {
			importErrors = append(importErrors, "skill '"+name+"' has no data")
			continue
		}
		if _, err := s.registry.Get(name); err == nil {
			importErrors = append(importErrors, "skill '"+name+"' already exists, skipped")
			continue
		}
		skill.Name = name
		skill.Verified = false
		if result := s.validator.Validate(skill); !result.Valid {
			importErrors = append(importErrors,
				"skill '"+name+"' validation failed: "+strings.Join(result.Errors, "; "))
			continue
		}
		if err := s.registry.Register(skill); err != nil {
			importErrors = append(importErrors, "skill '"+name+"' registration failed: "+err.Error())
			continue
		}
		imported++
	}

	s.logger.Info("imported skills", zap.Int("count", imported), zap.Int("errors", len(importErrors)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"imported_count": imported,
		"errors":         importErrors,
	})
}

func (s *Server) skillMap() map[string]*skills.Skill {
	all := s.registry.List("")
	m := make(map[string]*skills.Skill, len(all))
	for _, skill := range all {
		m[skill.Name] = skill
	}
	return m
}

func firstMissingField(s *skills.Skill) string {
	if s.Name == "" {
		return "name"
	}
	if s.Description == "" {
		return "description"
	}
	if s.Source == "" {
		return "source"
	}
	return ""
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, skills.ErrNotFound):
		writeError(w, http.StatusNotFound, "skill not found")
	case errors.Is(err, skills.ErrProtected):
		writeError(w, http.StatusForbidden, "cannot modify built-in skill")
	case errors.Is(err, skills.ErrDuplicateName):
		writeError(w, http.StatusConflict, "skill already exists")
	case errors.Is(err, skills.ErrInvalidDefinition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeValidationFailure(w http.ResponseWriter, result ValidationResult) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"success":           false,
		"error":             "validation failed",
		"validation_errors": result.Errors,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
