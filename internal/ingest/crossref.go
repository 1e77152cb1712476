// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elias-jhsph/scienceai/internal/httputil"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// crossrefAPIBase is the Crossref works endpoint. Declared as a var so
// tests can substitute an httptest server.
var crossrefAPIBase = "https://api.crossref.org/works/"

// Crossref resolves DOIs against the Crossref catalog. Email joins the
// polite pool and is sent as the mailto parameter.
type Crossref struct {
	Email  string
	Client *http.Client
}

// NewCrossref builds a catalog client.
func NewCrossref(email string, client *http.Client) *Crossref {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Crossref{Email: email, Client: client}
}

type crossrefEnvelope struct {
	Message crossrefWork `json:"message"`
}

type crossrefWork struct {
	DOI            string            `json:"DOI"`
	Title          []string          `json:"title"`
	ContainerTitle []string          `json:"container-title"`
	Author         []crossrefAuthor  `json:"author"`
	Issued         crossrefDateParts `json:"issued"`
	Reference      []crossrefRef     `json:"reference"`
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

func (a crossrefAuthor) display() string {
	if a.Given == "" && a.Family == "" {
		return a.Name
	}
	return strings.TrimSpace(a.Given + " " + a.Family)
}

type crossrefDateParts struct {
	DateParts [][]int `json:"date-parts"`
}

func (d crossrefDateParts) time() time.Time {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return time.Time{}
	}
	parts := d.DateParts[0]
	year, month, day := parts[0], 1, 1
	if len(parts) > 1 {
		month = parts[1]
	}
	if len(parts) > 2 {
		day = parts[2]
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

type crossrefRef struct {
	DOI string `json:"DOI"`
}

// Work fetches one DOI's bibliographic record and the DOIs it cites.
func (c *Crossref) Work(ctx context.Context, doi string) (types.Bibliography, []string, error) {
	apiURL := crossrefAPIBase + url.PathEscape(doi)
	if c.Email != "" {
		apiURL += "?mailto=" + url.QueryEscape(c.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return types.Bibliography{}, nil, fmt.Errorf("creating Crossref request: %w", err)
	}

	resp, err := httputil.DoWithRetry(ctx, c.Client, req, 0)
	if err != nil {
		return types.Bibliography{}, nil, fmt.Errorf("Crossref API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Bibliography{}, nil, fmt.Errorf("Crossref API returned HTTP %d for %s", resp.StatusCode, doi)
	}

	var envelope crossrefEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return types.Bibliography{}, nil, fmt.Errorf("parsing Crossref response: %w", err)
	}

	work := envelope.Message
	bib := types.Bibliography{
		DOI:  work.DOI,
		Date: work.Issued.time(),
	}
	if len(work.Title) > 0 {
		bib.Title = work.Title[0]
	}
	if len(work.ContainerTitle) > 0 {
		bib.Venue = work.ContainerTitle[0]
	}
	for _, author := range work.Author {
		if name := author.display(); name != "" {
			bib.Authors = append(bib.Authors, name)
		}
	}

	var refs []string
	for _, ref := range work.Reference {
		if ref.DOI != "" {
			refs = append(refs, ref.DOI)
		}
	}
	return bib, refs, nil
}
