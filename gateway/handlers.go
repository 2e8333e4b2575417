package gateway

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kavindyakdn/smart-home-energy-monitor/energy"
	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/pkg/timestamp"
	"github.com/kavindyakdn/smart-home-energy-monitor/query"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

const maxBodyBytes = 4 << 20

// sampleRequest is the wire shape of one telemetry record.
type sampleRequest struct {
	DeviceID  string  `json:"deviceId"`
	Category  string  `json:"category"`
	Value     float64 `json:"value"`
	Status    bool    `json:"status"`
	Timestamp string  `json:"timestamp"`
}

func (r sampleRequest) toInput() (telemetry.Input, error) {
	ts, err := timestamp.Parse(r.Timestamp)
	if err != nil {
		return telemetry.Input{}, errors.WrapInvalid(err, "gateway", "toInput", "parse timestamp")
	}
	return telemetry.Input{
		DeviceID:  r.DeviceID,
		Category:  r.Category,
		Value:     r.Value,
		Status:    r.Status,
		Timestamp: ts,
	}, nil
}

func (s *Server) handleIngestOne(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		s.writeError(w, err)
		return
	}

	sample, err := s.ingest.IngestOne(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sample)
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	reqs, err := batchRequests(raw)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	inputs := make([]telemetry.Input, 0, len(reqs))
	for i, req := range reqs {
		input, err := req.toInput()
		if err != nil {
			s.writeJSON(w, http.StatusUnprocessableEntity, errorBody(
				"record "+strconv.Itoa(i+1)+": "+err.Error(), http.StatusUnprocessableEntity))
			return
		}
		inputs = append(inputs, input)
	}

	result, err := s.ingest.IngestBatch(r.Context(), inputs)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusCreated, result)
	case errors.Is(err, errors.ErrPartialBatchFailure):
		// The batch partially succeeded; report detail, not an error
		// status.
		s.writeJSON(w, http.StatusOK, result)
	default:
		s.writeError(w, err)
	}
}

// batchRequests accepts both the enveloped {"data": [...]} body and a bare
// array of records.
func batchRequests(raw json.RawMessage) ([]sampleRequest, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Data []sampleRequest `json:"data"`
		}
		if err := strictUnmarshal(raw, &envelope); err != nil {
			return nil, err
		}
		return envelope.Data, nil
	}

	var reqs []sampleRequest
	if err := strictUnmarshal(raw, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func strictUnmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.WrapInvalid(err, "gateway", "batchRequests", "parse body")
	}
	return nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	params, err := queryParams(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}

	samples, err := s.query.Find(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(samples),
		"samples": samples,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	hours := 0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeBadRequest(w, errors.WrapInvalid(err, "gateway", "handleStats", "parse hours"))
			return
		}
		hours = parsed
	}

	stats, err := s.query.Stats(r.Context(), deviceID, hours)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":   deviceID,
		"categories": stats,
	})
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := timestamp.Parse(q.Get("start"))
	if err != nil {
		s.writeBadRequest(w, errors.WrapInvalid(err, "gateway", "handleEnergy", "parse start"))
		return
	}
	end, err := timestamp.Parse(q.Get("end"))
	if err != nil {
		s.writeBadRequest(w, errors.WrapInvalid(err, "gateway", "handleEnergy", "parse end"))
		return
	}

	report, err := s.energy.WindowTotal(r.Context(), energy.Window{
		Start:     start,
		End:       end,
		DeviceIDs: deviceIDs(q.Get("device")),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	perDevice := make(map[string]float64, len(report.PerDeviceWh))
	for id, wh := range report.PerDeviceWh {
		perDevice[id] = roundKWh(wh / 1000)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"start":        timestamp.Format(report.Start),
		"end":          timestamp.Format(report.End),
		"totalKWh":     roundKWh(report.TotalKWh()),
		"perDeviceKWh": perDevice,
	})
}

func (s *Server) handleEnergyDaily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startDay, err := timestamp.Parse(q.Get("startDay"))
	if err != nil {
		s.writeBadRequest(w, errors.WrapInvalid(err, "gateway", "handleEnergyDaily", "parse startDay"))
		return
	}
	endDay, err := timestamp.Parse(q.Get("endDay"))
	if err != nil {
		s.writeBadRequest(w, errors.WrapInvalid(err, "gateway", "handleEnergyDaily", "parse endDay"))
		return
	}

	buckets, err := s.energy.DailyBuckets(r.Context(), startDay, endDay, deviceIDs(q.Get("device")))
	if err != nil {
		s.writeError(w, err)
		return
	}

	type bucketBody struct {
		PeriodStart string  `json:"periodStart"`
		PeriodEnd   string  `json:"periodEnd"`
		EnergyKWh   float64 `json:"energyKWh"`
	}
	body := make([]bucketBody, len(buckets))
	for i, b := range buckets {
		body[i] = bucketBody{
			PeriodStart: timestamp.Format(b.PeriodStart),
			PeriodEnd:   timestamp.Format(b.PeriodEnd),
			EnergyKWh:   roundKWh(b.EnergyWh / 1000),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"buckets": body})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("daysToKeep")
	days, err := strconv.Atoi(raw)
	if err != nil {
		s.writeBadRequest(w, errors.WrapInvalid(err, "gateway", "handleSweep", "parse daysToKeep"))
		return
	}

	deleted, err := s.sweeper.Sweep(r.Context(), days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"deletedCount": deleted,
		"daysToKeep":   days,
	})
}

// queryParams parses the sample-query filters from the URL.
func queryParams(r *http.Request) (query.Params, error) {
	q := r.URL.Query()

	params := query.Params{
		DeviceIDs:  deviceIDs(q.Get("device")),
		DeviceType: q.Get("type"),
		Room:       q.Get("room"),
	}

	start, err := timestamp.ParseOptional(q.Get("start"))
	if err != nil {
		return query.Params{}, errors.WrapInvalid(err, "gateway", "queryParams", "parse start")
	}
	end, err := timestamp.ParseOptional(q.Get("end"))
	if err != nil {
		return query.Params{}, errors.WrapInvalid(err, "gateway", "queryParams", "parse end")
	}
	params.Start = start
	params.End = end
	return params, nil
}

// deviceIDs splits a comma-separated device list; empty means all.
func deviceIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

// roundKWh rounds to three decimals for presentation.
func roundKWh(kwh float64) float64 {
	return math.Round(kwh*1000) / 1000
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.WrapInvalid(err, "gateway", "decodeJSON", "parse body")
	}
	return nil
}
