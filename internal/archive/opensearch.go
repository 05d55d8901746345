// Package archive writes terminal alerts and their assessments to OpenSearch
// for long-term audit search. The archive is write-only from the engine's
// point of view and strictly optional: archiving failures are logged, never
// propagated into the alert lifecycle.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/fleetsentry-systems/fleetsentry/internal/config"
	"github.com/fleetsentry-systems/fleetsentry/internal/models"
)

// Archiver indexes terminal alerts for audit.
type Archiver interface {
	ArchiveAlert(ctx context.Context, alert *models.Alert, assessment *models.AlertAssessment) error
}

// OpenSearchArchiver implements Archiver against an OpenSearch cluster.
type OpenSearchArchiver struct {
	client *opensearch.Client
	index  string
}

// document is the archived shape: the alert, its final assessment, and the
// archive timestamp, flattened into one record per alert.
type document struct {
	Alert      *models.Alert           `json:"alert"`
	Assessment *models.AlertAssessment `json:"assessment,omitempty"`
	ArchivedAt time.Time               `json:"archived_at"`
}

// NewOpenSearchArchiver creates an archiver and verifies connectivity.
func NewOpenSearchArchiver(cfg config.ArchiveConfig) (*OpenSearchArchiver, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return &OpenSearchArchiver{
		client: client,
		index:  cfg.Index,
	}, nil
}

// ArchiveAlert indexes one terminal alert. The document id is the alert id,
// so re-archiving the same alert overwrites rather than duplicates.
func (a *OpenSearchArchiver) ArchiveAlert(ctx context.Context, alert *models.Alert, assessment *models.AlertAssessment) error {
	doc := document{
		Alert:      alert,
		Assessment: assessment,
		ArchivedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal archive document: %w", err)
	}

	// Daily indices so retention can be managed by index lifecycle policy.
	indexName := fmt.Sprintf("%s-%s", a.index, time.Now().UTC().Format("2006.01.02"))

	req := opensearchapi.IndexRequest{
		Index:      indexName,
		DocumentID: alert.ID,
		Body:       bytes.NewReader(body),
	}

	resp, err := req.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("failed to index alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("opensearch index error: %s", resp.Status())
	}
	return nil
}

// NoopArchiver is used when archiving is disabled.
type NoopArchiver struct{}

func (NoopArchiver) ArchiveAlert(context.Context, *models.Alert, *models.AlertAssessment) error {
	return nil
}
