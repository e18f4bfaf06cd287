package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/service"
)

// StepUpHeader carries the step-up token on raw views.
const StepUpHeader = "X-Step-Up-Token"

// --- DTOs ---

type registerRequest struct {
	Email      string `json:"email"`
	Telephone  string `json:"telephone"`
	Password   string `json:"password"`
	NationalID string `json:"national_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        userView  `json:"user"`
}

type stepUpRequest struct {
	Password string `json:"password"`
}

type stepUpResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type documentRequest struct {
	Title      string `json:"title"`
	Type       string `json:"type"`
	StorageURL string `json:"storage_url"`
	Checksum   string `json:"checksum"`
	Owner      string `json:"owner"`
}

func (d documentRequest) model() model.NewDocument {
	return model.NewDocument{Title: d.Title, Type: d.Type, StorageURL: d.StorageURL, Checksum: d.Checksum, Owner: d.Owner}
}

type issueRequest struct {
	Citizen string `json:"citizen"`
	documentRequest
}

type documentsResponse struct {
	Documents []model.DocumentMetadata `json:"documents"`
}

type organizationRequest struct {
	Name string   `json:"name"`
	Code string   `json:"code"`
	Type string   `json:"type"`
	Tier int      `json:"tier"`
	Tags []string `json:"tags"`
}

type organizationView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Type      string    `json:"type"`
	Tier      int       `json:"tier"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

func toOrganizationView(o model.Organization) organizationView {
	return organizationView{
		ID:        o.ID,
		Name:      o.Name,
		Code:      o.Code,
		Type:      string(o.Type),
		Tier:      o.Tier,
		Tags:      append([]string{}, o.Tags...),
		CreatedAt: o.CreatedAt,
	}
}

type roleRequest struct {
	Role           string     `json:"role"`
	OrganizationID *uuid.UUID `json:"organization_id"`
	Permissions    []string   `json:"permissions"`
}

func (rr roleRequest) model() (service.RoleChange, error) {
	role, err := model.ParseRole(rr.Role)
	if err != nil {
		return service.RoleChange{}, err
	}
	return service.RoleChange{Role: role, OrganizationID: rr.OrganizationID, Permissions: rr.Permissions}, nil
}

type staffRequest struct {
	Email      string `json:"email"`
	Telephone  string `json:"telephone"`
	Password   string `json:"password"`
	NationalID string `json:"national_id"`
	roleRequest
}

type userView struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	Role           model.Role `json:"role"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Permissions    []string   `json:"permissions"`
	IsActive       bool       `json:"is_active"`
}

func toUserView(u model.User) userView {
	return userView{
		ID:             u.ID,
		Email:          u.Email,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		Permissions:    u.Permissions.Strings(),
		IsActive:       u.IsActive,
	}
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad id")
		return uuid.Nil, false
	}
	return id, true
}

func caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := Subject(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no auth")
	}
	return id, ok
}

// --- Auth ---

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.auth.Register(r.Context(), service.Registration{
		Email:      req.Email,
		Telephone:  req.Telephone,
		Password:   req.Password,
		NationalID: req.NationalID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": id.String()})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tok, u, err := s.auth.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: toUserView(u)})
}

func (s *Server) requestStepUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req stepUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tok, err := s.stepUp.RequestStepUp(r.Context(), userID, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stepUpResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

// --- Documents ---

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req documentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.docs.Upload(r.Context(), userID, req.model())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.Metadata())
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := req.documentRequest.model()
	in.Owner = ""
	d, err := s.docs.Issue(r.Context(), userID, req.Citizen, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.Metadata())
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	docs, err := s.docs.ListForUser(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	docs, err := s.docs.Queue(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	docID, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.docs.GetByID(r.Context(), userID, docID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	docID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	// the note is optional, so is the body
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	d, err := s.docs.Verify(r.Context(), userID, docID, req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Metadata())
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	docID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.docs.Reject(r.Context(), userID, docID, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Metadata())
}

func (s *Server) viewRaw(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	docID, ok := pathID(w, r)
	if !ok {
		return
	}
	tok := strings.TrimSpace(r.Header.Get(StepUpHeader))
	if tok == "" {
		writeError(w, r, http.StatusUnauthorized, "step-up token required")
		return
	}
	url, err := s.stepUp.ViewRaw(r.Context(), userID, docID, tok)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"storage_url": url})
}

func (s *Server) verifyPublic(w http.ResponseWriter, r *http.Request) {
	docID, ok := pathID(w, r)
	if !ok {
		return
	}
	pv, err := s.docs.VerifyPublic(r.Context(), docID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// --- Directory ---

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req organizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := s.dir.CreateOrganization(r.Context(), userID, service.NewOrganization{
		Name: req.Name,
		Code: req.Code,
		Type: model.OrgType(req.Type),
		Tier: req.Tier,
		Tags: req.Tags,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrganizationView(*o))
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.dir.ListOrganizations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]organizationView, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, toOrganizationView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": out})
}

func (s *Server) createStaff(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req staffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rc, err := req.roleRequest.model()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.dir.CreateStaff(r.Context(), userID, service.NewStaff{
		Email:      req.Email,
		Telephone:  req.Telephone,
		Password:   req.Password,
		NationalID: req.NationalID,
		RoleChange: rc,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserView(*u))
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	target, ok := pathID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rc, err := req.model()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.dir.SetRole(r.Context(), userID, target, rc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(*u))
}

func (s *Server) deactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	target, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.dir.Deactivate(r.Context(), userID, target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
