// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Paper is the store record for one ingested PDF. Lists maps an analyst
// name to the named paper lists that analyst placed this paper on.
type Paper struct {
	// ID is the SHA-256 of the PDF bytes, hex encoded. The first ten
	// characters serve as the short id agents use in conversation.
	ID string `json:"paper_id" yaml:"paper_id"`

	// PDFPath is the stored copy of the PDF inside the project directory.
	PDFPath string `json:"pdf_path" yaml:"pdf_path"`

	// Title, Authors, and Date are filled in once the paper is processed.
	Title   string    `json:"title,omitempty" yaml:"title,omitempty"`
	Authors []string  `json:"authors,omitempty" yaml:"authors,omitempty"`
	Date    time.Time `json:"date,omitempty" yaml:"date,omitempty"`

	// Processed reports whether the full-text record exists for this paper.
	Processed bool `json:"processed" yaml:"processed"`

	Lists map[string][]string `json:"lists,omitempty" yaml:"lists,omitempty"`
}

// ShortID returns the ten-character prefix of the paper id.
func (p Paper) ShortID() string {
	if len(p.ID) < 10 {
		return p.ID
	}
	return p.ID[:10]
}

// Bibliography is the bibliographic record matched for a paper.
type Bibliography struct {
	DOI     string    `json:"doi" yaml:"doi"`
	Title   string    `json:"title" yaml:"title"`
	Authors []string  `json:"authors" yaml:"authors"`
	Venue   string    `json:"venue,omitempty" yaml:"venue,omitempty"`
	Date    time.Time `json:"date,omitempty" yaml:"date,omitempty"`
}

// ProcessedPaper is the full-text record produced by the paper processor:
// cleaned page text, the matched bibliographic record, a model-written
// summary, and the rasterized page images used for identifier matching.
type ProcessedPaper struct {
	CleanedText string       `json:"cleaned_text" yaml:"cleaned_text"`
	Metadata    Bibliography `json:"metadata" yaml:"metadata"`
	Summary     string       `json:"summary" yaml:"summary"`

	// PageImages are data URLs of the rasterized pages, in page order.
	PageImages []string `json:"page_images,omitempty" yaml:"page_images,omitempty"`
}
