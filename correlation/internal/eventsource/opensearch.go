package eventsource

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/reconhawk/reconhawk-stack/common/config"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

const defaultOpenSearchPageSize = 1000

// OpenSearchSource reads events from an OpenSearch index where each document is one
// scan event. Keyword mappings are expected for scan_id, type, hash,
// source_event_hash and id.
type OpenSearchSource struct {
	client   *opensearch.Client
	index    string
	pageSize int
}

// NewOpenSearchSource creates a client for cfg. It does not contact the cluster;
// call Ping to check connectivity.
func NewOpenSearchSource(cfg config.OpenSearchConfig) (*OpenSearchSource, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure}, // #nosec G402 -- opt-in for self-signed dev clusters
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	index := cfg.Index
	if index == "" {
		index = "reconhawk-events"
	}
	return &OpenSearchSource{client: client, index: index, pageSize: defaultOpenSearchPageSize}, nil
}

// Ping checks that the cluster answers.
func (s *OpenSearchSource) Ping(ctx context.Context) error {
	res, err := s.client.Info(s.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch returned error: %s", res.Status())
	}
	return nil
}

func (s *OpenSearchSource) GetEvents(ctx context.Context, scanIDs []string, filter *Filter) ([]*models.Event, error) {
	filters := []map[string]interface{}{terms("scan_id", scanIDs)}
	if filter != nil && len(filter.Types) > 0 {
		filters = append(filters, terms("type", filter.Types))
	}
	return s.search(ctx, filters)
}

func (s *OpenSearchSource) GetEventsByHash(ctx context.Context, scanID string, hashes []string) ([]*models.Event, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	return s.search(ctx, []map[string]interface{}{
		{"term": map[string]interface{}{"scan_id": scanID}},
		terms("hash", hashes),
	})
}

func (s *OpenSearchSource) GetChildEvents(ctx context.Context, scanID string, parentHashes []string) ([]*models.Event, error) {
	if len(parentHashes) == 0 {
		return nil, nil
	}
	return s.search(ctx, []map[string]interface{}{
		{"term": map[string]interface{}{"scan_id": scanID}},
		terms("source_event_hash", parentHashes),
	})
}

func (s *OpenSearchSource) GetEventsByID(ctx context.Context, ids []string) ([]*models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	// Documents indexed without an id field are matched on _id instead.
	return s.search(ctx, []map[string]interface{}{{
		"bool": map[string]interface{}{
			"should": []map[string]interface{}{
				terms("id", ids),
				{"ids": map[string]interface{}{"values": uniqueStrings(ids)}},
			},
			"minimum_should_match": 1,
		},
	}})
}

func terms(field string, values []string) map[string]interface{} {
	return map[string]interface{}{"terms": map[string]interface{}{field: uniqueStrings(values)}}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
			Sort   []interface{}   `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// search pages through all matching documents with search_after.
func (s *OpenSearchSource) search(ctx context.Context, filters []map[string]interface{}) ([]*models.Event, error) {
	var (
		events      []*models.Event
		searchAfter []interface{}
	)
	for {
		body := map[string]interface{}{
			"size":  s.pageSize,
			"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
			"sort": []map[string]interface{}{
				{"created": map[string]string{"order": "asc"}},
				{"id": map[string]string{"order": "asc"}},
			},
		}
		if searchAfter != nil {
			body["search_after"] = searchAfter
		}
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal search body: %w", err)
		}

		res, err := s.client.Search(
			s.client.Search.WithContext(ctx),
			s.client.Search.WithIndex(s.index),
			s.client.Search.WithBody(bytes.NewReader(bodyBytes)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to search events: %w", err)
		}

		var parsed searchResponse
		err = func() error {
			defer res.Body.Close()
			if res.IsError() {
				msg, _ := io.ReadAll(res.Body)
				return fmt.Errorf("opensearch error: %s - %s", res.Status(), string(msg))
			}
			if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
				return fmt.Errorf("failed to decode search response: %w", err)
			}
			return nil
		}()
		if err != nil {
			return nil, err
		}

		for _, hit := range parsed.Hits.Hits {
			var e models.Event
			if err := json.Unmarshal(hit.Source, &e); err != nil {
				return nil, fmt.Errorf("failed to decode event %s: %w", hit.ID, err)
			}
			if e.ID == "" {
				e.ID = hit.ID
			}
			events = append(events, &e)
		}

		n := len(parsed.Hits.Hits)
		if n < s.pageSize || n == 0 {
			break
		}
		searchAfter = parsed.Hits.Hits[n-1].Sort
		if searchAfter == nil {
			break
		}
	}
	SortEvents(events)
	return events, nil
}
