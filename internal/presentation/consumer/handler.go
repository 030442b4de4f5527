package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/impairment-engine/internal/application/dto"
	"github.com/bibbank/impairment-engine/internal/application/usecase"
	pkgkafka "github.com/bibbank/impairment-engine/pkg/kafka"
)

// Runner executes a calculation request. *usecase.RunCalculationUseCase satisfies it.
type Runner interface {
	Execute(ctx context.Context, req dto.RunCalculationRequest) (dto.RunCalculationResponse, error)
}

// calculationMessage is the wire format of the request topic. The reporting
// date accepts either YYYY-MM-DD or RFC 3339.
type calculationMessage struct {
	ReportingDate string `json:"reporting_date"`
	RunKind       string `json:"run_kind"`
	Recipient     string `json:"recipient"`
	ResumeRunID   string `json:"resume_run_id"`
	PortfolioID   int64  `json:"portfolio_id"`
	PageSize      int    `json:"page_size"`
}

// runNamespace seeds the run ids derived from request message positions.
var runNamespace = uuid.MustParse("6f1c2a7e-3b5d-4c8a-9e21-0d4f7b6a5c13")

// RunIDFor returns the run id of a request message: the same topic, partition
// and offset always map to the same id, so a redelivered message resumes the
// run it started.
func RunIDFor(msg pkgkafka.Message) string {
	pos := msg.Topic + "/" + strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10)
	return uuid.NewSHA1(runNamespace, []byte(pos)).String()
}

// CalculationHandler consumes calculation requests from Kafka.
type CalculationHandler struct {
	runner Runner
	logger *slog.Logger
}

// NewCalculationHandler creates a handler that runs each request to completion.
func NewCalculationHandler(runner Runner, logger *slog.Logger) *CalculationHandler {
	return &CalculationHandler{runner: runner, logger: logger}
}

// Handle runs one request. Malformed requests and failed runs are committed:
// failed runs have already been reported and are retried by resubmitting
// with resume_run_id. Only an interrupted run leaves its message uncommitted;
// its run id comes from RunIDFor, so redelivery continues from the last
// committed page.
func (h *CalculationHandler) Handle(ctx context.Context, msg pkgkafka.Message) error {
	req, err := decodeRequest(msg.Value)
	if err != nil {
		h.logger.Error("discarding malformed calculation request", "error", err, "key", string(msg.Key))
		return nil
	}
	if req.ResumeRunID == "" {
		req.ResumeRunID = RunIDFor(msg)
	}

	resp, err := h.runner.Execute(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("calculation run %s interrupted: %w", resp.RunID, err)
		}
		var runErr *usecase.RunError
		if errors.As(err, &runErr) {
			h.logger.Error("calculation request failed",
				"run_id", runErr.RunID,
				"stage", runErr.Stage,
				"pages_committed", runErr.PagesCommitted,
				"error", runErr.Err,
			)
			return nil
		}
		return err
	}

	h.logger.Info("calculation request completed",
		"run_id", resp.RunID,
		"portfolio_id", resp.PortfolioID,
		"run_kind", resp.RunKind,
		"loans", resp.LoanCount,
		"skipped", resp.SkippedCount,
		"duration_ms", resp.DurationMS,
	)
	return nil
}

func decodeRequest(payload []byte) (dto.RunCalculationRequest, error) {
	var m calculationMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return dto.RunCalculationRequest{}, fmt.Errorf("decode request: %w", err)
	}

	date, err := parseReportingDate(m.ReportingDate)
	if err != nil {
		return dto.RunCalculationRequest{}, err
	}

	return dto.RunCalculationRequest{
		ReportingDate: date,
		RunKind:       m.RunKind,
		Recipient:     m.Recipient,
		ResumeRunID:   m.ResumeRunID,
		PortfolioID:   m.PortfolioID,
		PageSize:      m.PageSize,
	}, nil
}

func parseReportingDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("reporting_date %q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	return t.UTC(), nil
}
