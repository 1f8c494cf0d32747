package search

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/backstage/services/sentiment/config"
	"example.com/backstage/services/sentiment/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client  *elasticsearch.Client
	config  config.ElasticConfig
	enabled bool
}

// NewElasticClient creates a new Elasticsearch client. Indexing is optional;
// a disabled client is valid and indexes nothing.
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return &ElasticClient{enabled: false, config: cfg}, nil
	}

	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client:  client,
		config:  cfg,
		enabled: true,
	}, nil
}

// Enabled reports whether result indexing is active
func (c *ElasticClient) Enabled() bool {
	return c.enabled
}

// IndexResult indexes a sentiment result in Elasticsearch. The result id is
// used as the document id, so re-indexing the same row is idempotent.
func (c *ElasticClient) IndexResult(ctx context.Context, result *models.SentimentResult) error {
	if !c.enabled {
		return nil
	}

	var scores map[string]float64
	if result.Scores != nil {
		if err := json.Unmarshal(result.Scores, &scores); err != nil {
			log.Error().Err(err).Msg("could not unmarshal result scores")
			return errors.Wrap(err, "failed to unmarshal result scores")
		}
	}

	// Build the document to be indexed
	doc := map[string]interface{}{
		"id":              result.ID.String(),
		"event_id":        result.EventID,
		"occurred_at":     result.OccurredAt,
		"source":          result.Source,
		"source_uid":      result.SourceUID,
		"clean_text":      result.CleanText,
		"sentiment_label": result.Label,
		"sentiment_score": result.Score,
		"scores":          scores,
		"model_version":   result.ModelVersion,
		"processed_at":    result.ProcessedAt,
	}

	docJson, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal result document")
	}

	// Prepare the index request
	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: result.ID.String(),
		Body:       bytes.NewReader(docJson),
	}

	// Execute the request
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	// Check for errors in the response
	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}

// SearchResults searches indexed results with the given query body
func (c *ElasticClient) SearchResults(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error) {
	if !c.enabled {
		return nil, errors.New("search is disabled")
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}

	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}

		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}

		docs = append(docs, source)
	}

	return docs, nil
}
