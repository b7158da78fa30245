package bill

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/bill-splitter/internal/metrics"
	"github.com/zombor/bill-splitter/internal/scanning"
	"github.com/zombor/bill-splitter/internal/settlement"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		opts        Options
		server      *Server
		ghttpServer *ghttp.Server
	)

	do := func(method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, data
	}

	doJSON := func(method, path string, v any) (*http.Response, []byte) {
		data, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return do(method, path, bytes.NewReader(data), "application/json")
	}

	upload := func(field, filename string, content []byte) (*http.Response, []byte) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile(field, filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())
		return do(http.MethodPost, "/api/bills/scan", &buf, mw.FormDataContentType())
	}

	errorOf := func(body []byte) string {
		var e map[string]string
		Expect(json.Unmarshal(body, &e)).To(Succeed())
		return e["error"]
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		opts = Options{Gatherer: prometheus.NewRegistry()}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, scanner, storage, &mockIDGenerator{id: "new-bill"}, &mockTimeSource{})
		server = NewServerWithMux(service, opts, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(".*"), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleIndex", func() {
		It("serves the page", func() {
			resp, body := do(http.MethodGet, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			Expect(string(body)).To(ContainSubstring("Bill Splitter"))
		})

		It("rejects other methods", func() {
			resp, _ := do(http.MethodPost, "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})

		It("returns 404 for unknown paths", func() {
			resp, _ := do(http.MethodGet, "/nope", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp, _ := do(http.MethodOptions, "/api/bills/abc/step", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})

		It("decorates regular responses", func() {
			resp, _ := do(http.MethodGet, "/api/bills", nil, "")
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			opts.BasicAuth = BasicAuth{Username: "user", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp, body := do(http.MethodGet, "/api/bills", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(errorOf(body)).To(Equal("Unauthorized"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the configured credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/bills", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleScanBill", func() {
		It("creates a bill from an image", func() {
			resp, body := upload("file", "dinner.png", []byte("png bytes"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var b Bill
			Expect(json.Unmarshal(body, &b)).To(Succeed())
			Expect(b.ID).To(Equal("new-bill"))
			Expect(b.Items).To(HaveLen(2))
			Expect(b.Step).To(Equal(StepParticipants))
			Expect(scanner.contentType).To(Equal("image/png"))
		})

		It("rejects files that are not images or PDFs", func() {
			resp, body := upload("file", "notes.txt", []byte("hello"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(body)).To(Equal("Please upload an image or PDF file"))
			Expect(scanner.calls).To(Equal(0))
		})

		It("rejects a form without a file", func() {
			resp, _ := upload("other", "dinner.png", []byte("png bytes"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a body that is not multipart", func() {
			resp, body := do(http.MethodPost, "/api/bills/scan", strings.NewReader("{}"), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(body)).To(Equal("Error parsing form"))
		})

		When("the scan finds no items", func() {
			BeforeEach(func() {
				scanner.data = &scanning.BillData{}
			})

			It("returns 400 with the message", func() {
				resp, body := upload("file", "dinner.png", []byte("png bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(body)).To(Equal("No items detected in the receipt"))
			})
		})

		When("the scanner fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("model unavailable")
			})

			It("returns 502", func() {
				resp, body := upload("file", "dinner.png", []byte("png bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(errorOf(body)).To(ContainSubstring("Failed to scan"))
			})
		})

		When("the upload cannot be decoded", func() {
			BeforeEach(func() {
				scanner.scanErr = fmt.Errorf("converting image to PNG: %w: %w", scanning.ErrUnreadableImage, errors.New("image: unknown format"))
			})

			It("returns 400", func() {
				resp, body := upload("file", "dinner.png", []byte("not really png"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(body)).To(ContainSubstring("Could not read the uploaded file"))
			})
		})

		When("the scan reports a negative price", func() {
			BeforeEach(func() {
				scanner.scanErr = fmt.Errorf("parsing bill data: items: %w: -3.00", scanning.ErrNegativePrice)
			})

			It("returns 400 with a short message", func() {
				resp, body := upload("file", "dinner.png", []byte("png bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(body)).To(Equal("The receipt contains a negative price"))
			})
		})

		When("the bill cannot be saved", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("bolt exploded")
			})

			It("returns 500 without details", func() {
				resp, body := upload("file", "dinner.png", []byte("png bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(errorOf(body)).To(Equal("Internal server error"))
			})
		})

		When("the file is larger than the limit", func() {
			BeforeEach(func() {
				opts.MaxUploadBytes = 1024
			})

			It("returns 413", func() {
				resp, body := upload("file", "dinner.png", bytes.Repeat([]byte("x"), 4096))
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(errorOf(body)).To(ContainSubstring("too large"))
				Expect(scanner.calls).To(Equal(0))
			})
		})
	})

	Describe("bills", func() {
		When("no bills exist", func() {
			It("returns an empty array", func() {
				resp, body := do(http.MethodGet, "/api/bills", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("a bill exists", func() {
			BeforeEach(func() {
				b := sampleBill("bill-1")
				db.put(b)
				storage.files[b.Filename] = []byte("png bytes")
			})

			It("lists it", func() {
				_, body := do(http.MethodGet, "/api/bills", nil, "")
				var bills []*Bill
				Expect(json.Unmarshal(body, &bills)).To(Succeed())
				Expect(bills).To(HaveLen(1))
			})

			It("gets it", func() {
				resp, body := do(http.MethodGet, "/api/bills/bill-1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(string(body)).To(ContainSubstring(`"assigned_to":[1,2]`))
			})

			It("serves the uploaded file", func() {
				resp, body := do(http.MethodGet, "/api/bills/bill-1/file", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
				Expect(body).To(Equal([]byte("png bytes")))
			})

			It("deletes it", func() {
				resp, _ := do(http.MethodDelete, "/api/bills/bill-1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(db.bills).To(BeEmpty())
				Expect(storage.files).To(BeEmpty())
			})
		})

		It("returns 404 for a missing bill", func() {
			resp, body := do(http.MethodGet, "/api/bills/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorOf(body)).To(Equal("Bill not found"))
		})

		It("returns 404 when deleting a missing bill", func() {
			resp, _ := do(http.MethodDelete, "/api/bills/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns 500 without details when the database fails", func() {
			db.listErr = errors.New("bolt exploded")
			resp, body := do(http.MethodGet, "/api/bills", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(errorOf(body)).To(Equal("Internal server error"))
		})
	})

	Describe("participants", func() {
		BeforeEach(func() {
			db.put(sampleBill("bill-1"))
		})

		It("adds a participant", func() {
			resp, body := doJSON(http.MethodPost, "/api/bills/bill-1/participants", map[string]string{"name": "Carol"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var p settlement.Participant
			Expect(json.Unmarshal(body, &p)).To(Succeed())
			Expect(p).To(Equal(settlement.Participant{ID: 3, Name: "Carol"}))
		})

		It("rejects a blank name", func() {
			resp, body := doJSON(http.MethodPost, "/api/bills/bill-1/participants", map[string]string{"name": "  "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(body)).To(Equal("Participant name is required"))
		})

		It("rejects an invalid body", func() {
			resp, _ := do(http.MethodPost, "/api/bills/bill-1/participants", strings.NewReader("nope"), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("removes a participant", func() {
			resp, _ := do(http.MethodDelete, "/api/bills/bill-1/participants/1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			saved, _ := db.GetBill("bill-1")
			Expect(saved.Participants).To(HaveLen(1))
		})

		It("returns 404 for an unknown participant", func() {
			resp, body := do(http.MethodDelete, "/api/bills/bill-1/participants/9", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorOf(body)).To(Equal("Participant not found"))
		})

		It("returns 400 for a non-numeric participant id", func() {
			resp, _ := do(http.MethodDelete, "/api/bills/bill-1/participants/alice", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("assignments", func() {
		BeforeEach(func() {
			db.put(sampleBill("bill-1"))
		})

		It("toggles an assignment", func() {
			resp, body := do(http.MethodPost, "/api/bills/bill-1/items/2/assignees/2", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"assigned": true}`))

			_, body = do(http.MethodPost, "/api/bills/bill-1/items/2/assignees/2", nil, "")
			Expect(body).To(MatchJSON(`{"assigned": false}`))
		})

		It("returns 404 for an unknown item", func() {
			resp, body := do(http.MethodPost, "/api/bills/bill-1/items/9/assignees/1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorOf(body)).To(Equal("Item not found"))
		})
	})

	Describe("steps", func() {
		BeforeEach(func() {
			db.put(sampleBill("bill-1"))
		})

		It("moves to the summary", func() {
			resp, body := doJSON(http.MethodPut, "/api/bills/bill-1/step", map[string]string{"step": "summary"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var b Bill
			Expect(json.Unmarshal(body, &b)).To(Succeed())
			Expect(b.Step).To(Equal(StepSummary))
		})

		It("rejects unknown steps", func() {
			resp, body := doJSON(http.MethodPut, "/api/bills/bill-1/step", map[string]string{"step": "pay"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(body)).To(Equal("Invalid step"))
		})

		When("there are no participants", func() {
			BeforeEach(func() {
				b := sampleBill("bill-1")
				b.Participants = nil
				b.Step = StepParticipants
				db.put(b)
			})

			It("refuses to move forward", func() {
				resp, body := doJSON(http.MethodPut, "/api/bills/bill-1/step", map[string]string{"step": "assignment"})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(body)).To(Equal("Add at least one participant first"))
			})
		})
	})

	Describe("settlement", func() {
		var b *Bill

		BeforeEach(func() {
			b = sampleBill("bill-1")
		})

		JustBeforeEach(func() {
			db.put(b)
		})

		It("returns the result without a warning when fully assigned", func() {
			resp, body := do(http.MethodGet, "/api/bills/bill-1/settlement", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result map[string]any
			Expect(json.Unmarshal(body, &result)).To(Succeed())
			Expect(result["total_bill"]).To(BeNumerically("~", 34, 1e-9))
			Expect(result["is_fully_assigned"]).To(BeTrue())
			Expect(result).NotTo(HaveKey("warning"))
			Expect(result["lines"]).To(HaveLen(2))
		})

		When("an item is unassigned", func() {
			BeforeEach(func() {
				b.Items[1].AssignedTo = nil
			})

			It("still returns 200 with a warning", func() {
				resp, body := do(http.MethodGet, "/api/bills/bill-1/settlement", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var result map[string]any
				Expect(json.Unmarshal(body, &result)).To(Succeed())
				Expect(result["is_fully_assigned"]).To(BeFalse())
				Expect(result["warning"]).To(Equal(IncompleteAssignmentWarning))
			})
		})

		It("renders the text summary", func() {
			resp, body := do(http.MethodGet, "/api/bills/bill-1/summary", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/plain; charset=utf-8"))
			Expect(string(body)).To(ContainSubstring("Bob owes $12.00"))
		})

		It("returns 404 for a missing bill", func() {
			resp, _ := do(http.MethodGet, "/api/bills/missing/settlement", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("metrics", func() {
		BeforeEach(func() {
			registry := prometheus.NewRegistry()
			opts.Metrics = metrics.NewHTTPMetrics("bill_splitter", nil, registry)
			opts.Gatherer = registry
		})

		It("exposes request metrics labelled by route", func() {
			resp, _ := do(http.MethodGet, "/api/bills", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, body := do(http.MethodGet, "/metrics", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("bill_splitter_http_requests_total"))
			Expect(string(body)).To(ContainSubstring(`route="GET /api/bills"`))
		})
	})
})
