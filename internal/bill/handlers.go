package bill

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/bill-splitter/internal/scanning"
	"github.com/zombor/bill-splitter/internal/settlement"
)

// settlementResponse is a settlement plus the non-blocking incomplete-assignment warning
type settlementResponse struct {
	settlement.Result
	Warning string `json:"warning,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrParticipantNotFound),
		errors.Is(err, ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyName),
		errors.Is(err, ErrNoParticipants),
		errors.Is(err, ErrInvalidStep),
		errors.Is(err, ErrNoItems),
		errors.Is(err, ErrUnsupportedFileType),
		errors.Is(err, scanning.ErrNegativePrice),
		errors.Is(err, scanning.ErrUnreadableImage):
		return http.StatusBadRequest
	case errors.Is(err, ErrScanFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError answers with the mapped status. Server-side failures are
// logged, and internal ones are hidden from the client.
func writeServiceError(w http.ResponseWriter, err error, action string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, userMessage(err))
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Bill not found"
	case errors.Is(err, ErrParticipantNotFound):
		return "Participant not found"
	case errors.Is(err, ErrItemNotFound):
		return "Item not found"
	case errors.Is(err, ErrEmptyName):
		return "Participant name is required"
	case errors.Is(err, ErrNoParticipants):
		return "Add at least one participant first"
	case errors.Is(err, ErrInvalidStep):
		return "Invalid step"
	case errors.Is(err, ErrNoItems):
		return "No items detected in the receipt"
	case errors.Is(err, ErrUnsupportedFileType):
		return "Please upload an image or PDF file"
	case errors.Is(err, scanning.ErrNegativePrice):
		return "The receipt contains a negative price"
	case errors.Is(err, scanning.ErrUnreadableImage):
		return "Could not read the uploaded file. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF."
	case errors.Is(err, ErrScanFailed):
		return "Failed to scan the bill. Please try again."
	default:
		return err.Error()
	}
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return v, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleScanBill(w http.ResponseWriter, r *http.Request) {
	maxSize := s.opts.MaxUploadBytes
	tooLarge := fmt.Sprintf("File is too large. Maximum size is %dMB.", maxSize>>20)

	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+(1<<20))
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	if header.Size > maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	b, err := s.service.ScanBill(r.Context(), header.Filename, data, header.Header.Get("Content-Type"))
	if err != nil {
		writeServiceError(w, err, "scanning bill "+header.Filename)
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.service.ListBills()
	if err != nil {
		writeServiceError(w, err, "listing bills")
		return
	}
	if bills == nil {
		bills = []*Bill{}
	}
	writeJSON(w, http.StatusOK, bills)
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.GetBill(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting bill")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBill(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "deleting bill")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBillFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetBillFile(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Bill not found")
			return
		}
		slog.Error("Error getting bill file", "error", err)
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := s.service.AddParticipant(r.PathValue("id"), req.Name)
	if err != nil {
		writeServiceError(w, err, "adding participant")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, err := pathInt(r, "participantID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.RemoveParticipant(r.PathValue("id"), participantID); err != nil {
		writeServiceError(w, err, "removing participant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleAssignment(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathInt(r, "itemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	participantID, err := pathInt(r, "participantID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	assigned, err := s.service.ToggleAssignment(r.PathValue("id"), itemID, participantID)
	if err != nil {
		writeServiceError(w, err, "toggling assignment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"assigned": assigned})
}

func (s *Server) handleMoveTo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step string `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	step, err := ParseStep(req.Step)
	if err != nil {
		writeServiceError(w, err, "parsing step")
		return
	}

	b, err := s.service.MoveTo(r.PathValue("id"), step)
	if err != nil {
		writeServiceError(w, err, "changing step")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Settle(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "settling bill")
		return
	}

	resp := settlementResponse{Result: result}
	if !result.IsFullyAssigned {
		resp.Warning = IncompleteAssignmentWarning
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "summarizing bill")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, summary)
}
