package web

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/stash/app/enum"
	"github.com/umputun/stash/app/git"
	"github.com/umputun/stash/app/store"
	"github.com/umputun/stash/lib/stash"
)

// handleKeyList renders the keys table partial (for HTMX).
func (h *Handler) handleKeyList(w http.ResponseWriter, r *http.Request) {
	params := h.getListParams(w, r)

	keys, err := h.Store.List(r.Context(), params.secretsFilter)
	if err != nil {
		log.Printf("[ERROR] failed to list keys: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	username := h.getCurrentUser(r)
	filteredKeys := h.filterKeysByPermission(username, keys)

	// check URL query first, then form values (for POST requests with hx-include)
	search := r.URL.Query().Get("search")
	if search == "" {
		search = r.FormValue("search")
	}
	filteredKeys = h.filterBySearch(filteredKeys, search)
	h.sortByMode(filteredKeys, params.sortMode)

	// pagination - check query then form value
	totalKeys := len(filteredKeys)
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, parseErr := strconv.Atoi(p); parseErr == nil && parsed > 0 {
			page = parsed
		}
	} else if p := r.FormValue("page"); p != "" {
		if parsed, parseErr := strconv.Atoi(p); parseErr == nil && parsed > 0 {
			page = parsed
		}
	}
	pr := h.paginate(filteredKeys, page, h.PageSize)

	data := templateData{
		Keys:     pr.keys,
		Search:   search,
		Theme:    h.getTheme(r),
		ViewMode: params.viewMode,
		SortMode: params.sortMode,
		BaseURL:  h.BaseURL,
		CanWrite: h.Auth.UserCanWrite(username),
		Username: username,
		paginationData: paginationData{
			Page:       pr.page,
			TotalPages: pr.totalPages,
			TotalKeys:  totalKeys,
			HasPrev:    pr.hasPrev,
			HasNext:    pr.hasNext,
		},
		secretsData: secretsData{
			SecretsFilter:  params.secretsFilter,
			SecretsEnabled: h.Store.SecretsEnabled(),
		},
	}

	if err := h.tmpl.ExecuteTemplate(w, "keys-table", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// handleKeyNew renders the new key form.
func (h *Handler) handleKeyNew(w http.ResponseWriter, r *http.Request) {
	// check if user can write at all
	username := h.getCurrentUser(r)
	if !h.Auth.UserCanWrite(username) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	data := templateData{
		IsNew:    true,
		Format:   stash.FormatText.String(),
		Formats:  h.Validator.SupportedFormats(),
		Theme:    h.getTheme(r),
		BaseURL:  h.BaseURL,
		CanWrite: true,
		Username: username,
	}
	if err := h.tmpl.ExecuteTemplate(w, "form", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// handleKeyView renders the key view modal.
func (h *Handler) handleKeyView(w http.ResponseWriter, r *http.Request) {
	key := store.NormalizeKey(r.PathValue("key"))

	// check read permission
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, false) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	value, format, err := h.Store.GetWithFormat(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrSecretsNotConfigured) {
			h.renderError(w, "Secrets not configured: keys with 'secrets' in path require --secrets.key")
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to get key: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Printf("[DEBUG] view %s (%d bytes, format=%s)", key, len(value), format)
	valueSize := len(value)
	h.logAudit(r, key, enum.AuditActionRead, enum.AuditResultSuccess, &valueSize)

	displayValue, isBinary := h.valueForDisplay(value)
	modalWidth, textareaHeight := h.calculateModalDimensions(displayValue)

	// generate highlighted HTML if not binary
	var highlightedVal template.HTML
	if !isBinary {
		highlightedVal = h.highlighter.Code(displayValue, format)
	}

	data := templateData{
		Key:            key,
		Value:          displayValue,
		HighlightedVal: highlightedVal,
		Format:         format,
		IsBinary:       isBinary,
		ZKEncrypted:    stash.IsZKEncrypted(value),
		Theme:          h.getTheme(r),
		BaseURL:        h.BaseURL,
		ModalWidth:     modalWidth,
		TextareaHeight: textareaHeight,
		CanWrite:       h.Auth.CheckUserPermission(username, key, true),
		Username:       username,
		historyData:    historyData{GitEnabled: h.Git != nil},
	}

	if err := h.tmpl.ExecuteTemplate(w, "view", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// handleKeyEdit renders the key edit form.
func (h *Handler) handleKeyEdit(w http.ResponseWriter, r *http.Request) {
	key := store.NormalizeKey(r.PathValue("key"))

	// check write permission
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, true) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	value, format, err := h.Store.GetWithFormat(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrSecretsNotConfigured) {
			h.renderError(w, "Secrets not configured: keys with 'secrets' in path require --secrets.key")
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to get key: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// block editing of ZK-encrypted keys (must use client library with passphrase)
	if stash.IsZKEncrypted(value) {
		h.renderError(w, "Cannot edit: this key is encrypted with zero-knowledge encryption."+
			" Use the client library with your passphrase to modify it.")
		return
	}

	// get key info for conflict detection (updated_at timestamp as nanoseconds)
	var updatedAt int64
	if info, infoErr := h.Store.GetInfo(r.Context(), key); infoErr == nil {
		updatedAt = info.UpdatedAt.UnixNano()
	}

	displayValue, isBinary := h.valueForDisplay(value)
	modalWidth, textareaHeight := h.calculateModalDimensions(displayValue)
	data := templateData{
		Key:            key,
		Value:          displayValue,
		Format:         format,
		Formats:        h.Validator.SupportedFormats(),
		IsBinary:       isBinary,
		Theme:          h.getTheme(r),
		BaseURL:        h.BaseURL,
		ModalWidth:     modalWidth,
		TextareaHeight: textareaHeight,
		CanWrite:       true,
		Username:       username,
		conflictData:   conflictData{UpdatedAt: updatedAt},
	}

	if err := h.tmpl.ExecuteTemplate(w, "form", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// handleKeyCreate creates a new key.
func (h *Handler) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	key := store.NormalizeKey(r.FormValue("key"))
	valueStr := r.FormValue("value")
	isBinary := r.FormValue("is_binary") == "true"
	format := r.FormValue("format")
	if !h.Validator.IsValidFormat(format) {
		format = stash.FormatText.String()
	}

	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	// check write permission for this specific key
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, true) {
		h.renderFormError(w, templateData{
			Key: key, Value: valueStr, Format: format, Formats: h.Validator.SupportedFormats(),
			IsNew: true, Error: "Access denied: you don't have write permission for this key prefix",
			BaseURL: h.BaseURL, CanWrite: false, Username: username,
		})
		return
	}

	// check if key already exists
	_, _, getErr := h.Store.GetWithFormat(r.Context(), key)
	if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
		if errors.Is(getErr, store.ErrSecretsNotConfigured) {
			h.renderFormError(w, templateData{
				Key: key, Value: valueStr, Format: format, Formats: h.Validator.SupportedFormats(),
				IsNew: true, Error: "Secrets not configured: keys with 'secrets' in path require --secrets.key",
				BaseURL: h.BaseURL, CanWrite: true, Username: username,
			})
			return
		}
		log.Printf("[ERROR] failed to check key existence: %v", getErr)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if getErr == nil {
		h.renderFormError(w, templateData{
			Key: key, Value: valueStr, Format: format, Formats: h.Validator.SupportedFormats(),
			IsNew: true, Error: fmt.Sprintf("key %q already exists", key),
			BaseURL: h.BaseURL, CanWrite: true, Username: username,
		})
		return
	}

	value, err := h.valueFromForm(valueStr, isBinary)
	if err != nil {
		http.Error(w, "invalid value encoding", http.StatusBadRequest)
		return
	}

	// validate value unless force flag is set or value is binary
	force := r.FormValue("force") == "true"
	if !force && !isBinary {
		if err := h.Validator.Validate(format, value); err != nil {
			h.renderFormError(w, templateData{
				Key: key, Value: valueStr, Format: format, Formats: h.Validator.SupportedFormats(),
				IsNew: true, Error: err.Error(), CanForce: true,
				BaseURL: h.BaseURL, CanWrite: true, Username: username,
			})
			return
		}
	}

	if _, err := h.Store.Set(r.Context(), key, value, format); err != nil {
		if errors.Is(err, store.ErrSecretsNotConfigured) {
			h.renderFormError(w, templateData{
				Key: key, Value: valueStr, Format: format, Formats: h.Validator.SupportedFormats(),
				IsNew: true, Error: "Secrets not configured: keys with 'secrets' in path require --secrets.key",
				BaseURL: h.BaseURL, CanWrite: true, Username: username,
			})
			return
		}
		log.Printf("[ERROR] failed to set key: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Printf("[INFO] create %q (%d bytes, format=%s) by %s", key, len(value), format, h.getIdentityForLog(r))
	valueSize := len(value)
	h.logAudit(r, key, enum.AuditActionCreate, enum.AuditResultSuccess, &valueSize)
	h.commitToGit(key, value, "set", format, username)
	h.publishEvent(key, enum.AuditActionCreate)
	h.handleKeyList(w, r) // return updated keys table
}

// handleKeyUpdate updates an existing key.
func (h *Handler) handleKeyUpdate(w http.ResponseWriter, r *http.Request) {
	key := store.NormalizeKey(r.PathValue("key"))

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	valueStr := r.FormValue("value")
	isBinary := r.FormValue("is_binary") == "true"
	format := r.FormValue("format")
	if !h.Validator.IsValidFormat(format) {
		format = stash.FormatText.String()
	}

	// check write permission
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, true) {
		modalWidth, textareaHeight := h.calculateModalDimensions(valueStr)
		h.renderFormError(w, templateData{
			Key: key, Value: valueStr, Format: format, Formats: h.Validator.SupportedFormats(),
			IsBinary: isBinary, IsNew: false, Error: "Access denied: you don't have write permission for this key",
			BaseURL: h.BaseURL, ModalWidth: modalWidth, TextareaHeight: textareaHeight,
			CanWrite: false, Username: username,
		})
		return
	}

	value, err := h.valueFromForm(valueStr, isBinary)
	if err != nil {
		http.Error(w, "invalid value encoding", http.StatusBadRequest)
		return
	}

	// validate value unless force flag is set or value is binary
	force := r.FormValue("force") == "true"
	formUpdatedAt, _ := strconv.ParseInt(r.FormValue("updated_at"), 10, 64)
	if !force && !isBinary {
		if validationErr := h.Validator.Validate(format, value); validationErr != nil {
			h.renderValidationError(w, validationErrorParams{
				Key: key, Value: valueStr, Format: format, IsBinary: isBinary,
				Username: username, Error: validationErr.Error(), UpdatedAt: formUpdatedAt,
			})
			return
		}
	}

	// use atomic SetWithVersion for optimistic locking unless force_overwrite is set
	forceOverwrite := r.FormValue("force_overwrite") == "true"
	var expectedVersion time.Time
	if !forceOverwrite && formUpdatedAt > 0 {
		expectedVersion = time.Unix(0, formUpdatedAt).UTC()
	}

	if err := h.Store.SetWithVersion(r.Context(), key, value, format, expectedVersion); err != nil {
		if errors.Is(err, store.ErrSecretsNotConfigured) {
			modalWidth, textareaHeight := h.calculateModalDimensions(valueStr)
			h.renderFormError(w, templateData{
				Key: key, Value: valueStr, Format: format, Formats: h.Validator.SupportedFormats(),
				IsBinary: isBinary, IsNew: false,
				Error:   "Secrets not configured: keys with 'secrets' in path require --secrets.key",
				BaseURL: h.BaseURL, ModalWidth: modalWidth, TextareaHeight: textareaHeight,
				CanWrite: true, Username: username,
			})
			return
		}
		var conflictErr *store.ConflictError
		if errors.As(err, &conflictErr) {
			h.renderConflictError(w, conflictErrorParams{
				Key: key, Value: valueStr, Format: format, IsBinary: isBinary,
				Username: username, FormUpdatedAt: formUpdatedAt, ConflictErr: conflictErr,
			})
			return
		}
		log.Printf("[ERROR] failed to set key: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Printf("[INFO] update %q (%d bytes, format=%s) by %s", key, len(value), format, h.getIdentityForLog(r))
	valueSize := len(value)
	h.logAudit(r, key, enum.AuditActionUpdate, enum.AuditResultSuccess, &valueSize)
	h.commitToGit(key, value, "set", format, username)
	h.publishEvent(key, enum.AuditActionUpdate)
	h.handleKeyList(w, r) // return updated keys table
}

// handleKeyDelete deletes a key.
func (h *Handler) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	key := store.NormalizeKey(r.PathValue("key"))

	// check write permission
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, true) {
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	if err := h.Store.Delete(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to delete key: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Printf("[INFO] delete %q by %s", key, h.getIdentityForLog(r))
	h.logAudit(r, key, enum.AuditActionDelete, enum.AuditResultSuccess, nil)

	// delete from git if enabled
	if h.Git != nil {
		if err := h.Git.Delete(key, h.getAuthor(username)); err != nil {
			log.Printf("[WARN] git delete failed for %s: %v", key, err)
		}
	}

	h.publishEvent(key, enum.AuditActionDelete)
	h.handleKeyList(w, r) // return updated keys table
}

// handleKeyHistory renders the history modal for a key.
func (h *Handler) handleKeyHistory(w http.ResponseWriter, r *http.Request) {
	key := store.NormalizeKey(r.PathValue("key"))

	// check if git is enabled
	if h.Git == nil {
		http.Error(w, "git not enabled", http.StatusServiceUnavailable)
		return
	}

	// check read permission
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, false) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	history, err := h.Git.History(key, 50)
	if err != nil {
		log.Printf("[ERROR] failed to get history for %s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data := templateData{
		Key:         key,
		Theme:       h.getTheme(r),
		BaseURL:     h.BaseURL,
		CanWrite:    h.Auth.CheckUserPermission(username, key, true),
		Username:    username,
		historyData: historyData{History: history, GitEnabled: true},
	}

	if err := h.tmpl.ExecuteTemplate(w, "history", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// handleKeyRevision renders a specific revision of a key.
func (h *Handler) handleKeyRevision(w http.ResponseWriter, r *http.Request) {
	key := store.NormalizeKey(r.PathValue("key"))
	rev := r.URL.Query().Get("rev")

	// check if git is enabled
	if h.Git == nil {
		http.Error(w, "git not enabled", http.StatusServiceUnavailable)
		return
	}

	// check read permission
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, false) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if rev == "" {
		http.Error(w, "revision required", http.StatusBadRequest)
		return
	}

	value, format, err := h.Git.GetRevision(key, rev)
	if err != nil {
		log.Printf("[ERROR] failed to get revision %s for %s: %v", rev, key, err)
		http.Error(w, "revision not found", http.StatusNotFound)
		return
	}

	displayValue, isBinary := h.valueForDisplay(value)
	modalWidth, textareaHeight := h.calculateModalDimensions(displayValue)

	var highlightedVal template.HTML
	if !isBinary {
		highlightedVal = h.highlighter.Code(displayValue, format)
	}

	data := templateData{
		Key:            key,
		Value:          displayValue,
		HighlightedVal: highlightedVal,
		Format:         format,
		IsBinary:       isBinary,
		Theme:          h.getTheme(r),
		BaseURL:        h.BaseURL,
		ModalWidth:     modalWidth,
		TextareaHeight: textareaHeight,
		CanWrite:       h.Auth.CheckUserPermission(username, key, true),
		Username:       username,
		historyData:    historyData{GitEnabled: true, RevHash: rev},
	}

	if err := h.tmpl.ExecuteTemplate(w, "revision", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// handleKeyRestore restores a key to a specific revision.
func (h *Handler) handleKeyRestore(w http.ResponseWriter, r *http.Request) {
	key := store.NormalizeKey(r.PathValue("key"))

	// check if git is enabled
	if h.Git == nil {
		http.Error(w, "git not enabled", http.StatusServiceUnavailable)
		return
	}

	// check write permission
	username := h.getCurrentUser(r)
	if !h.Auth.CheckUserPermission(username, key, true) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	rev := r.FormValue("rev")
	if rev == "" {
		http.Error(w, "revision required", http.StatusBadRequest)
		return
	}

	// get value at revision
	value, format, err := h.Git.GetRevision(key, rev)
	if err != nil {
		log.Printf("[ERROR] failed to get revision %s for %s: %v", rev, key, err)
		http.Error(w, "revision not found", http.StatusNotFound)
		return
	}

	// save to store
	if _, err := h.Store.Set(r.Context(), key, value, format); err != nil {
		if errors.Is(err, store.ErrSecretsNotConfigured) {
			h.renderError(w, "Secrets not configured: keys with 'secrets' in path require --secrets.key")
			return
		}
		log.Printf("[ERROR] failed to set key %s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Printf("[INFO] restore %q to revision %s by %s", key, rev, h.getIdentityForLog(r))
	valueSize := len(value)
	h.logAudit(r, key, enum.AuditActionUpdate, enum.AuditResultSuccess, &valueSize)
	h.commitToGit(key, value, "restore", format, username)
	h.publishEvent(key, enum.AuditActionUpdate)
	h.handleKeyList(w, r) // return updated keys table
}

// calculateModalDimensions estimates modal width and textarea height based on content.
// returns width and textarea height in pixels.
func (h *Handler) calculateModalDimensions(value string) (width, textareaHeight int) {
	const minWidth, maxWidth = 600, 1200
	const charWidth = 8        // approximate width in pixels for monospace 13px font
	const padding = 100        // approximate padding, margins, and scrollbar
	const lineHeight = 20      // approximate line height in pixels
	const minLines = 4         // minimum 4 lines for textarea/value display
	const maxLines = 18        // maximum lines before scrolling (fits within 400px max-height)
	const textareaPadding = 24 // textarea padding (12px top + 12px bottom)

	// find longest line and count lines
	lines := strings.Split(value, "\n")
	maxLen := 0
	for _, line := range lines {
		if runeLen := utf8.RuneCountInString(line); runeLen > maxLen {
			maxLen = runeLen
		}
	}
	lineCount := len(lines)

	// calculate width with constraints
	width = maxLen*charWidth + padding
	width = max(width, minWidth)
	width = min(width, maxWidth)

	// calculate textarea height based on line count (min 4, max 18 lines)
	if lineCount < minLines {
		lineCount = minLines
	}
	if lineCount > maxLines {
		lineCount = maxLines
	}
	textareaHeight = lineCount*lineHeight + textareaPadding

	return width, textareaHeight
}

// validationErrorParams holds parameters for rendering a validation error form.
type validationErrorParams struct {
	Key       string
	Value     string
	Format    string
	IsBinary  bool
	Username  string
	Error     string
	UpdatedAt int64 // original timestamp from form (preserve for conflict detection on retry)
}

// renderValidationError re-renders the form with a validation error message.
// preserves original updated_at timestamp for conflict detection on retry.
func (h *Handler) renderValidationError(w http.ResponseWriter, p validationErrorParams) {
	w.Header().Set("HX-Retarget", "#modal-content")
	w.Header().Set("HX-Reswap", "innerHTML")
	modalWidth, textareaHeight := h.calculateModalDimensions(p.Value)
	data := templateData{
		Key:            p.Key,
		Value:          p.Value,
		Format:         p.Format,
		Formats:        h.Validator.SupportedFormats(),
		IsBinary:       p.IsBinary,
		IsNew:          false,
		Error:          p.Error,
		CanForce:       true,
		BaseURL:        h.BaseURL,
		ModalWidth:     modalWidth,
		TextareaHeight: textareaHeight,
		CanWrite:       true,
		Username:       p.Username,
		conflictData:   conflictData{UpdatedAt: p.UpdatedAt},
	}
	if err := h.tmpl.ExecuteTemplate(w, "form", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// renderError renders an error message in the modal.
func (h *Handler) renderError(w http.ResponseWriter, errMsg string) {
	data := templateData{Error: errMsg}
	if err := h.tmpl.ExecuteTemplate(w, "error", data); err != nil {
		log.Printf("[ERROR] failed to execute error template: %v", err)
		http.Error(w, errMsg, http.StatusBadRequest)
	}
}

// renderFormError re-renders a form with an error message, using HX-Retarget for HTMX.
func (h *Handler) renderFormError(w http.ResponseWriter, data templateData) {
	w.Header().Set("HX-Retarget", "#modal-content")
	w.Header().Set("HX-Reswap", "innerHTML")
	if err := h.tmpl.ExecuteTemplate(w, "form", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
}

// conflictErrorParams holds parameters for rendering a conflict error form.
type conflictErrorParams struct {
	Key           string
	Value         string
	Format        string
	IsBinary      bool
	Username      string
	FormUpdatedAt int64
	ConflictErr   *store.ConflictError
}

// renderConflictError renders the form with conflict data when optimistic lock fails.
func (h *Handler) renderConflictError(w http.ResponseWriter, p conflictErrorParams) {
	serverDisplayValue, _ := h.valueForDisplay(p.ConflictErr.Info.CurrentValue)
	w.Header().Set("HX-Retarget", "#modal-content")
	w.Header().Set("HX-Reswap", "innerHTML")
	modalWidth, textareaHeight := h.calculateModalDimensions(p.Value)
	data := templateData{
		Key:            p.Key,
		Value:          p.Value,
		Format:         p.Format,
		Formats:        h.Validator.SupportedFormats(),
		IsBinary:       p.IsBinary,
		IsNew:          false,
		BaseURL:        h.BaseURL,
		ModalWidth:     modalWidth,
		TextareaHeight: textareaHeight,
		CanWrite:       true,
		Username:       p.Username,
		conflictData: conflictData{
			Conflict:        true,
			ServerValue:     serverDisplayValue,
			ServerFormat:    p.ConflictErr.Info.CurrentFormat,
			ServerUpdatedAt: p.ConflictErr.Info.CurrentVersion.UnixNano(),
			UpdatedAt:       p.FormUpdatedAt,
		},
	}
	if err := h.tmpl.ExecuteTemplate(w, "form", data); err != nil {
		log.Printf("[ERROR] failed to execute template: %v", err)
	}
	log.Printf("[WARN] conflict detected for key %q: form=%d, server=%d",
		p.Key, p.FormUpdatedAt, p.ConflictErr.Info.CurrentVersion.UnixNano())
}

// commitToGit commits a key change to git if git is enabled.
func (h *Handler) commitToGit(key string, value []byte, op, format, username string) {
	if h.Git == nil {
		return
	}
	req := git.CommitRequest{Key: key, Value: value, Operation: op, Format: format, Author: h.getAuthor(username)}
	if err := h.Git.Commit(req); err != nil {
		log.Printf("[WARN] git commit failed for %s: %v", key, err)
	}
}

// publishEvent publishes a key change event to SSE subscribers if events are enabled.
func (h *Handler) publishEvent(key string, action enum.AuditAction) {
	if h.Events == nil {
		return
	}
	h.Events.Publish(key, action)
}
