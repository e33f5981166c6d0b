// Package slm is the REST client for the SLM marketplace service. It covers
// the merchant probe, the listings CRUD endpoints, and the bulk-import job
// endpoints, translating HTTP failures into [*APIError] values carrying the
// service's numeric code tables.
//
// The client performs one request per call (reads go through [Retry]); it
// implements no queueing or de-duplication; that is the sync engine's job.
package slm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketsync/internal/model"
)

// Route suffixes appended to the configured base URL. Opaque strings as far
// as the engine is concerned.
const (
	routeMerchant  = "/merchant"
	routeListings  = "/listings"
	routeAssociate = "/associate_listing"
	routeImport    = "/import"
)

// Client talks to one SLM endpoint with a fixed bearer token.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	log     *slog.Logger
}

// NewClient validates the base URL and returns a Client with a 10-second
// request timeout.
func NewClient(baseURL, token string, logger *slog.Logger) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("base URL %q must be a valid http or https URL", baseURL)
	}
	if token == "" {
		return nil, errors.New("API token is required")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 10 * time.Second},
		log:     logger,
	}, nil
}

// connectURL builds the full URL for a route suffix.
func (c *Client) connectURL(route string) string {
	return c.baseURL + route
}

// Merchant probes the merchant endpoint. It returns true when the account is
// a merchant, false on a clean 404 (not a merchant), and an error for
// anything else.
func (c *Client) Merchant(ctx context.Context) (bool, error) {
	var merchant bool
	err := Retry(ctx, defaultMaxAttempts, func() error {
		resp, err := c.do(ctx, http.MethodGet, c.connectURL(routeMerchant), nil)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch resp.StatusCode {
		case model.ListingSuccess:
			merchant = true
			return nil
		case model.ListingNotFound:
			merchant = false
			return nil
		}
		return newAPIError(resp)
	})
	if err != nil {
		return false, fmt.Errorf("merchant probe: %w", err)
	}
	return merchant, nil
}

// CreateListing creates a remote listing for the folder and returns the
// record the service confirmed, including any assigned listing ID.
func (c *Client) CreateListing(ctx context.Context, folderID uuid.UUID) (model.Listing, error) {
	body := listingsEnvelope{Listings: []wireListing{{
		InventoryInfo: wireInventoryInfo{ListingFolderID: folderID.String()},
	}}}
	rec, err := c.listingCall(ctx, http.MethodPost, c.connectURL(routeListings), body)
	if err != nil {
		return model.Listing{}, fmt.Errorf("create listing for %s: %w", folderID, err)
	}
	return rec, nil
}

// GetListing reads one listing by its remote ID.
func (c *Client) GetListing(ctx context.Context, listingID int) (model.Listing, error) {
	var rec model.Listing
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var callErr error
		rec, callErr = c.listingCall(ctx, http.MethodGet, fmt.Sprintf("%s/%d", c.connectURL(routeListings), listingID), nil)
		return callErr
	})
	if err != nil {
		return model.Listing{}, fmt.Errorf("get listing %d: %w", listingID, err)
	}
	return rec, nil
}

// Listings reads the full remote record set (bulk refresh).
func (c *Client) Listings(ctx context.Context) ([]model.Listing, error) {
	var recs []model.Listing
	err := Retry(ctx, defaultMaxAttempts, func() error {
		resp, err := c.do(ctx, http.MethodGet, c.connectURL(routeListings), nil)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != model.ListingSuccess {
			return newAPIError(resp)
		}
		env, err := decodeEnvelope(resp.Body)
		if err != nil {
			return err
		}
		recs = recs[:0]
		for _, w := range env.Listings {
			recs = append(recs, wireToListing(w))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get listings: %w", err)
	}
	return recs, nil
}

// UpdateListing pushes the version folder and activation state for a listing
// and returns the confirmed record.
func (c *Client) UpdateListing(ctx context.Context, listingID int, versionFolderID uuid.UUID, active bool) (model.Listing, error) {
	body := listingsEnvelope{Listings: []wireListing{{
		ID:       listingID,
		IsListed: active,
		InventoryInfo: wireInventoryInfo{
			VersionFolderID: uuidWire(versionFolderID),
		},
	}}}
	rec, err := c.listingCall(ctx, http.MethodPut, fmt.Sprintf("%s/%d", c.connectURL(routeListings), listingID), body)
	if err != nil {
		return model.Listing{}, fmt.Errorf("update listing %d: %w", listingID, err)
	}
	return rec, nil
}

// AssociateListing binds an existing remote listing ID to a local folder.
// The service answers with the authoritative record (listing ID, version
// folder, edit URL).
func (c *Client) AssociateListing(ctx context.Context, folderID uuid.UUID, listingID int) (model.Listing, error) {
	body := listingsEnvelope{Listings: []wireListing{{
		ID: listingID,
		InventoryInfo: wireInventoryInfo{
			ListingFolderID: folderID.String(),
		},
	}}}
	rec, err := c.listingCall(ctx, http.MethodPut, c.connectURL(routeAssociate), body)
	if err != nil {
		return model.Listing{}, fmt.Errorf("associate listing %d with %s: %w", listingID, folderID, err)
	}
	return rec, nil
}

// DeleteListing removes the remote listing.
func (c *Client) DeleteListing(ctx context.Context, listingID int) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", c.connectURL(routeListings), listingID), nil)
	if err != nil {
		return fmt.Errorf("delete listing %d: %w", listingID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != model.ListingSuccess {
		return fmt.Errorf("delete listing %d: %w", listingID, newAPIError(resp))
	}
	return nil
}

// StartImport kicks off the bulk inventory import job. The returned code and
// detail mirror the service's import table; a non-nil error means the
// request never produced a job status at all.
func (c *Client) StartImport(ctx context.Context) (model.ImportCode, map[string]any, error) {
	return c.importCall(ctx, http.MethodPost)
}

// ImportStatus polls the running import job.
func (c *Client) ImportStatus(ctx context.Context) (model.ImportCode, map[string]any, error) {
	var code model.ImportCode
	var detail map[string]any
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var callErr error
		code, detail, callErr = c.importCall(ctx, http.MethodGet)
		return callErr
	})
	return code, detail, err
}

// importCall runs one import-endpoint request. Every HTTP status the service
// defines is a valid job code, so only transport failures become errors.
func (c *Client) importCall(ctx context.Context, method string) (model.ImportCode, map[string]any, error) {
	resp, err := c.do(ctx, method, c.connectURL(routeImport), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("import call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	detail := map[string]any{}
	// Detail body is optional; a bare status code is a complete answer.
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	return model.ImportCode(resp.StatusCode), detail, nil
}

// listingCall runs one listings-endpoint request and decodes the single
// record the service confirmed.
func (c *Client) listingCall(ctx context.Context, method, u string, body any) (model.Listing, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return model.Listing{}, fmt.Errorf("encoding payload: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	resp, err := c.do(ctx, method, u, reader)
	if err != nil {
		return model.Listing{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != model.ListingSuccess && resp.StatusCode != model.ListingRecordCreated {
		return model.Listing{}, newAPIError(resp)
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return model.Listing{}, err
	}
	if len(env.Listings) == 0 {
		return model.Listing{}, errors.New("empty listings envelope in response")
	}
	return wireToListing(env.Listings[0]), nil
}

// do issues one HTTP request with auth headers.
func (c *Client) do(ctx context.Context, method, u string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, u, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	return resp, nil
}
