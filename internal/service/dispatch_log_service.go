package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bark-labs/pushdispatch/internal/model"
	"github.com/bark-labs/pushdispatch/internal/storage"
)

// Dispatch outcome buckets reported by CountByStatus.
const (
	LogStatusDelivered = "DELIVERED"
	LogStatusPartial   = "PARTIAL"
	LogStatusFailed    = "FAILED"
	LogStatusEmpty     = "EMPTY"
)

// DispatchLogService provides filtering and statistics over the audit log.
type DispatchLogService struct {
	store storage.AuditStore
}

// NewDispatchLogService builds the dispatch log service.
func NewDispatchLogService(store storage.AuditStore) *DispatchLogService {
	return &DispatchLogService{store: store}
}

// Query returns paginated logs, newest first.
func (s *DispatchLogService) Query(ctx context.Context, filter model.DispatchLogFilter) (*model.DispatchLogPage, error) {
	logs, err := s.filteredLogs(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(logs)
	if filter.PageSize <= 0 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := min(start+filter.PageSize, total)

	return &model.DispatchLogPage{
		Data:     logs[start:end],
		Total:    total,
		Pages:    (total + filter.PageSize - 1) / filter.PageSize,
		PageNum:  filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// CountByDate sums requested recipients per day/month/year.
func (s *DispatchLogService) CountByDate(ctx context.Context, dateType string, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DispatchLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}

	layout := "2006-01-02"
	switch strings.ToLower(dateType) {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}

	type bucket struct{ invocations, sent, failed int }
	counter := make(map[string]*bucket)
	for _, log := range logs {
		key := log.CompletedAt.Format(layout)
		b := counter[key]
		if b == nil {
			b = &bucket{}
			counter[key] = b
		}
		b.invocations++
		b.sent += log.SuccessCount
		b.failed += log.FailureCount
	}

	result := make([]map[string]any, 0, len(counter))
	for key, b := range counter {
		result = append(result, map[string]any{
			"date":        key,
			"invocations": b.invocations,
			"sent":        b.sent,
			"failed":      b.failed,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i]["date"].(string) < result[j]["date"].(string)
	})
	return result, nil
}

// CountByStatus aggregates invocations by how their sends went.
func (s *DispatchLogService) CountByStatus(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DispatchLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, log := range logs {
		counter[logStatus(log)]++
	}
	return mapToKV(counter, "status"), nil
}

func logStatus(log *model.DispatchLogEntry) string {
	switch {
	case log.RequestedCount == 0:
		return LogStatusEmpty
	case log.FailureCount == 0:
		return LogStatusDelivered
	case log.SuccessCount == 0:
		return LogStatusFailed
	default:
		return LogStatusPartial
	}
}

func (s *DispatchLogService) filteredLogs(ctx context.Context, filter model.DispatchLogFilter) ([]*model.DispatchLogEntry, error) {
	all, err := s.store.ListDispatchLogs(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]*model.DispatchLogEntry, 0, len(all))
	for _, log := range all {
		if filter.InvocationID != "" && !strings.EqualFold(log.InvocationID, filter.InvocationID) {
			continue
		}
		if filter.OnlyFailures && log.FailureCount == 0 {
			continue
		}
		if filter.BeginTime != nil && log.CompletedAt.Before(filter.BeginTime.UTC()) {
			continue
		}
		if filter.EndTime != nil && log.CompletedAt.After(filter.EndTime.UTC()) {
			continue
		}
		matches = append(matches, log)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CompletedAt.After(matches[j].CompletedAt)
	})
	return matches, nil
}

func mapToKV(counter map[string]int, key string) []map[string]any {
	result := make([]map[string]any, 0, len(counter))
	for k, v := range counter {
		result = append(result, map[string]any{
			key:     k,
			"count": v,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][key].(string) < result[j][key].(string)
	})
	return result
}
