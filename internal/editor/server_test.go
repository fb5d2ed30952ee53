package editor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/coerce"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/sandbox"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

func newAPIServer(t *testing.T) (*httptest.Server, *skills.Registry) {
	t.Helper()
	x := sandbox.New(10*time.Second, nil)
	reg := skills.NewRegistry(x.Check, nil)
	srv := httptest.NewServer(NewServer(reg, x, nil).Router())
	t.Cleanup(srv.Close)
	return srv, reg
}

func seedSkill(t *testing.T, reg *skills.Registry, name string, verified bool) {
	t.Helper()
	require.NoError(t, reg.Register(&skills.Skill{
		Name:        name,
		Description: "Reverses text when the user asks for it",
		Role:        "text_processing",
		VibePhrases: []string{"Reverse the word hello", "Flip this text around"},
		Parameters: []skills.Parameter{
			{Name: "text", Kind: coerce.String, Required: true, Description: "The text to reverse"},
		},
		Source:   reverseSource,
		Verified: verified,
	}))
}

func doJSON(t *testing.T, method, url string, payload interface{}) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestListSkills(t *testing.T) {
	srv, reg := newAPIServer(t)
	seedSkill(t, reg, "reverse_text", false)
	seedSkill(t, reg, "reverse_more", false)

	resp, err := http.Get(srv.URL + "/api/skills")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	skillMap, ok := body["skills"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, skillMap, "reverse_text")
	assert.Contains(t, skillMap, "reverse_more")
}

func TestGetSkill(t *testing.T) {
	srv, reg := newAPIServer(t)
	seedSkill(t, reg, "reverse_text", false)

	resp, err := http.Get(srv.URL + "/api/skills/reverse_text")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	skill, ok := body["skill"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "reverse_text", skill["name"])

	resp, err = http.Get(srv.URL + "/api/skills/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "skill not found", body["error"])
}

func TestCreateSkill(t *testing.T) {
	srv, reg := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills", &skills.Skill{
		Name:        "reverse_text",
		Description: "Reverses text when the user asks for it",
		Role:        "text_processing",
		VibePhrases: []string{"Reverse the word hello", "Flip this text around"},
		Parameters: []skills.Parameter{
			{Name: "text", Kind: coerce.String, Required: true, Description: "The text to reverse"},
		},
		Source:   reverseSource,
		Verified: true,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "reverse_text", body["skill_name"])

	created, err := reg.Get("reverse_text")
	require.NoError(t, err)
	// The editor can never mint built-ins.
	assert.False(t, created.Verified)
}

func TestCreateSkillMissingField(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills", map[string]interface{}{
		"name":   "reverse_text",
		"source": reverseSource,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "missing required field: description", body["error"])
}

func TestCreateSkillDuplicate(t *testing.T) {
	srv, reg := newAPIServer(t)
	seedSkill(t, reg, "reverse_text", false)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills", &skills.Skill{
		Name:        "reverse_text",
		Description: "Reverses text when the user asks for it",
		Source:      reverseSource,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "skill already exists", decodeBody(t, resp)["error"])
}

func TestCreateSkillValidationFailure(t *testing.T) {
	srv, reg := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills", &skills.Skill{
		Name:        "reverse_text",
		Description: "Reverses text when the user asks for it",
		Role:        "sorcery",
		Source:      reverseSource,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "validation failed", body["error"])
	validationErrors, ok := body["validation_errors"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, validationErrors)
	assert.Equal(t, 0, reg.Count())
}

func TestUpdateSkill(t *testing.T) {
	srv, reg := newAPIServer(t)
	seedSkill(t, reg, "reverse_text", false)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/skills/reverse_text", &skills.Skill{
		Name:        "reverse_text",
		Description: "Reverses any text when asked, now with a clearer description",
		Role:        "text_processing",
		VibePhrases: []string{"Reverse the word hello", "Flip this text around"},
		Source:      reverseSource,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	updated, err := reg.Get("reverse_text")
	require.NoError(t, err)
	assert.Equal(t, "Reverses any text when asked, now with a clearer description", updated.Description)
}

func TestUpdateVerifiedForbidden(t *testing.T) {
	srv, reg := newAPIServer(t)
	seedSkill(t, reg, "reverse_text", true)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/skills/reverse_text", &skills.Skill{
		Name:        "reverse_text",
		Description: "Reverses text when the user asks for it",
		Source:      reverseSource,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "cannot modify built-in skill", decodeBody(t, resp)["error"])
}

func TestUpdateUnknownSkill(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/skills/missing", &skills.Skill{
		Name:        "missing",
		Description: "Reverses text when the user asks for it",
		Source:      reverseSource,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSkill(t *testing.T) {
	srv, reg := newAPIServer(t)
	seedSkill(t, reg, "reverse_text", false)
	seedSkill(t, reg, "builtin_skill", true)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/skills/reverse_text", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	_, err := reg.Get("reverse_text")
	assert.ErrorIs(t, err, skills.ErrNotFound)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/skills/reverse_text", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/skills/builtin_skill", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestValidateEndpoint(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills/validate", &skills.Skill{
		Name:        "9lives",
		Description: "Reverses text when the user asks for it",
		Source:      reverseSource,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["is_valid"])
	validationErrors, ok := body["errors"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, validationErrors)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/skills/validate", &skills.Skill{
		Name:        "reverse_text",
		Description: "Reverses text when the user asks for it",
		VibePhrases: []string{"Reverse the word hello", "Flip this text around"},
		Source:      reverseSource,
	})
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["is_valid"])
}

func TestTestEndpointRunsSkill(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills/test", map[string]interface{}{
		"skill_data": &skills.Skill{
			Name:        "reverse_text",
			Description: "Reverses text when the user asks for it",
			VibePhrases: []string{"Reverse the word hello", "Flip this text around"},
			Source:      reverseSource,
		},
		"test_input": map[string]interface{}{"text": "abc"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["execution_successful"])
	output, ok := body["output"].([]interface{})
	require.True(t, ok)
	require.Len(t, output, 1)
	assert.Equal(t, "reversed: cba", output[0])
}

func TestTestEndpointExecutionFailure(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills/test", map[string]interface{}{
		"skill_data": &skills.Skill{
			Name:        "reverse_text",
			Description: "Reverses text when the user asks for it",
			VibePhrases: []string{"Reverse the word hello", "Flip this text around"},
			Source:      reverseSource,
		},
		"test_input": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["execution_successful"])
	assert.Contains(t, body["error"], "text parameter required")
}

func TestTestEndpointRejectsInvalidSkill(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills/test", map[string]interface{}{
		"skill_data": &skills.Skill{
			Name:        "broken",
			Description: "Reverses text when the user asks for it",
			Source:      "package main\n\nfunc run() {}",
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation failed", decodeBody(t, resp)["error"])
}

func TestRolesEndpoint(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp, err := http.Get(srv.URL + "/api/skills/roles")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool     `json:"success"`
		Roles   []string `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, skills.Roles, body.Roles)
}

func TestExportImportRoundTrip(t *testing.T) {
	srvA, regA := newAPIServer(t)
	seedSkill(t, regA, "reverse_text", false)

	resp, err := http.Get(srvA.URL + "/api/skills/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var export struct {
		Success     bool                     `json:"success"`
		ExportDate  string                   `json:"export_date"`
		SkillsCount int                      `json:"skills_count"`
		Skills      map[string]*skills.Skill `json:"skills"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&export))
	assert.True(t, export.Success)
	assert.Equal(t, 1, export.SkillsCount)
	assert.NotEmpty(t, export.ExportDate)

	srvB, regB := newAPIServer(t)
	importResp := doJSON(t, http.MethodPost, srvB.URL+"/api/skills/import", map[string]interface{}{
		"skills": export.Skills,
	})
	assert.Equal(t, http.StatusOK, importResp.StatusCode)
	importBody := decodeBody(t, importResp)
	assert.Equal(t, float64(1), importBody["imported_count"])

	want, err := regA.Get("reverse_text")
	require.NoError(t, err)
	got, err := regB.Get("reverse_text")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(skills.Skill{}, "CreatedAt", "LastModified")); diff != "" {
		t.Errorf("imported skill differs (-want +got):\n%s", diff)
	}
}

func TestImportSkipsExisting(t *testing.T) {
	srv, reg := newAPIServer(t)
	seedSkill(t, reg, "reverse_text", false)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills/import", map[string]interface{}{
		"skills": map[string]*skills.Skill{
			"reverse_text": {
				Name:        "reverse_text",
				Description: "Reverses text when the user asks for it",
				Source:      reverseSource,
			},
		},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(0), body["imported_count"])
	importErrors, ok := body["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, importErrors, 1)
	assert.Contains(t, importErrors[0], "already exists")
}

func TestImportRejectsInvalidPayload(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/skills/import", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid import data", decodeBody(t, resp)["error"])
}
