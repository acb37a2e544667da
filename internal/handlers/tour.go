package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/natours/apiserver/internal/apperr"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	maxMultipartMemory = 8 << 20
	maxImageBytes      = 5 << 20
	formFieldCover     = "imageCover"
)

var (
	errNotAnImage   = apperr.BadRequest("Not an image! Please upload only images.")
	errImageTooBig  = apperr.BadRequest("Image must not exceed 5mb")
	errMissingImage = apperr.BadRequest("Please upload an image in the imageCover field")
)

// reservedParams are query parameters that are not tour filters.
var reservedParams = map[string]bool{
	"page":  true,
	"limit": true,
	"sort":  true,
}

// numericTourFields are filtered by number; the rest compare as text.
var numericTourFields = map[string]bool{
	"duration":         true,
	"max_group_size":   true,
	"ratings_average":  true,
	"ratings_quantity": true,
	"price":            true,
}

// TourHandler provides HTTP handlers for tours.
type TourHandler struct {
	tourService *services.TourService
	log         logrus.FieldLogger
}

func NewTourHandler(tourService *services.TourService, log logrus.FieldLogger) *TourHandler {
	return &TourHandler{tourService: tourService, log: log}
}

// ToursRouter registers tour routes, including the nested review routes, on
// the given router.
func ToursRouter(r chi.Router, handler *TourHandler, reviews *ReviewHandler, authn *Authenticator) {
	staff := authn.RestrictTo(types.RoleAdmin, types.RoleLeadGuide)

	r.Get("/", handler.ListTours)
	r.Get("/top-5-cheap", handler.TopCheap)
	r.With(staff).Post("/", handler.CreateTour)
	r.Route("/{tourID}", func(r chi.Router) {
		r.Get("/", handler.GetTour)
		r.With(staff).Patch("/", handler.UpdateTour)
		r.With(staff).Delete("/", handler.DeleteTour)
		r.Get("/cover", handler.GetCover)
		r.With(staff).Patch("/cover", handler.UploadCover)
		r.Route("/reviews", func(r chi.Router) {
			ReviewsRouter(r, reviews, authn)
		})
	})
}

func (h *TourHandler) ListTours(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	query, err := parseTourQuery(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	query.Offset = offset
	query.Limit = limit

	tours, total, err := h.tourService.List(r.Context(), query)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Status:  statusSuccess,
		Results: len(tours),
		Page:    page,
		Limit:   limit,
		Total:   total,
		Data:    ToursData{Tours: tours},
	})
}

func (h *TourHandler) TopCheap(w http.ResponseWriter, r *http.Request) {
	tours, err := h.tourService.TopCheap(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Status:  statusSuccess,
		Results: len(tours),
		Total:   len(tours),
		Data:    ToursData{Tours: tours},
	})
}

func (h *TourHandler) GetTour(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	tour, err := h.tourService.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, TourData{Tour: tour})
}

func (h *TourHandler) CreateTour(w http.ResponseWriter, r *http.Request) {
	var req services.TourInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	created, err := h.tourService.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusCreated, TourData{Tour: created})
}

func (h *TourHandler) UpdateTour(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var req services.TourInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	updated, err := h.tourService.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, TourData{Tour: updated})
}

func (h *TourHandler) DeleteTour(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.tourService.Delete(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadCover accepts a multipart form with a single image in the
// imageCover field.
func (h *TourHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	data, err := readCoverImage(w, r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		writeError(w, h.log, errNotAnImage)
		return
	}

	tour, err := h.tourService.UploadCover(r.Context(), id, bytes.NewReader(data), int64(len(data)), mtype.String(), mtype.Extension())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeData(w, http.StatusOK, TourData{Tour: tour})
}

// GetCover streams the tour's cover image.
func (h *TourHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	obj, err := h.tourService.OpenCover(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.log.WithError(err).WithField("tour_id", id).Warn("failed to stream cover image")
	}
}

type ToursData struct {
	Tours []types.Tour `json:"tours"`
}

type TourData struct {
	Tour types.Tour `json:"tour"`
}

func parseTourID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "tourID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, apperr.BadRequest(fmt.Sprintf("Invalid tour id: %s", raw))
	}
	return id, nil
}

// parseTourQuery turns ?sort=-ratingsAverage,price&duration[gte]=5 into a
// store query. Field names may be given in camelCase or snake_case.
func parseTourQuery(r *http.Request) (store.TourQuery, error) {
	var query store.TourQuery
	values := r.URL.Query()

	if raw := strings.TrimSpace(values.Get("sort")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			desc := strings.HasPrefix(part, "-")
			field := toSnakeCase(strings.TrimPrefix(part, "-"))
			if !store.IsTourField(field) {
				return store.TourQuery{}, apperr.BadRequest(fmt.Sprintf("Invalid sort field: %s", part))
			}
			query.Sort = append(query.Sort, store.TourSort{Field: field, Desc: desc})
		}
	}

	for _, key := range slices.Sorted(maps.Keys(values)) {
		raw := values[key]
		if reservedParams[key] || len(raw) == 0 {
			continue
		}
		name, op := splitFilterKey(key)
		field := toSnakeCase(name)
		if !store.IsTourField(field) {
			return store.TourQuery{}, apperr.BadRequest(fmt.Sprintf("Invalid filter field: %s", name))
		}
		if !validFilterOp(op) {
			return store.TourQuery{}, apperr.BadRequest(fmt.Sprintf("Invalid filter operator: %s", op))
		}

		var value any = strings.TrimSpace(raw[0])
		if numericTourFields[field] {
			number, err := strconv.ParseFloat(raw[0], 64)
			if err != nil {
				return store.TourQuery{}, apperr.BadRequest(fmt.Sprintf("Invalid number for %s: %s", name, raw[0]))
			}
			value = number
		}
		query.Filters = append(query.Filters, store.TourFilter{Field: field, Op: op, Value: value})
	}
	return query, nil
}

// splitFilterKey splits "price[lt]" into "price" and "lt". A key without an
// operator compares for equality.
func splitFilterKey(key string) (string, string) {
	open := strings.IndexByte(key, '[')
	if open < 0 || !strings.HasSuffix(key, "]") {
		return key, "eq"
	}
	return key[:open], key[open+1 : len(key)-1]
}

func validFilterOp(op string) bool {
	switch op {
	case "eq", "gt", "gte", "lt", "lte":
		return true
	}
	return false
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, c := range name {
		if unicode.IsUpper(c) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(c))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func readCoverImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errImageTooBig
		}
		return nil, apperr.BadRequest("Invalid multipart form")
	}

	files := r.MultipartForm.File[formFieldCover]
	if len(files) == 0 {
		return nil, errMissingImage
	}
	if len(files) > 1 {
		return nil, apperr.BadRequest("Only one cover image is allowed")
	}

	file, err := files[0].Open()
	if err != nil {
		return nil, apperr.Internal("failed to read upload", err)
	}
	defer file.Close()
	return readFileLimited(file, maxImageBytes)
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, apperr.Internal("failed to read upload", err)
	}
	if int64(len(data)) > limit {
		return nil, errImageTooBig
	}
	return data, nil
}
