package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

// DNSClient manages CNAME records on the DNS/CDN control plane.
type DNSClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewDNSClient creates a new DNS/CDN client
func NewDNSClient(baseURL, apiToken string, timeout time.Duration) *DNSClient {
	return &DNSClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type dnsRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// ResolveZone looks up the zone id for the base domain. A missing zone is a
// misconfiguration, not a transient condition, so the caller treats the
// error as fatal.
func (c *DNSClient) ResolveZone(ctx context.Context, baseDomain string) (string, error) {
	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/zones?name=%s", c.baseURL, url.QueryEscape(baseDomain)),
		headers: c.authHeaders(),
	})
	if err != nil {
		return "", fmt.Errorf("resolve zone %q: %w", baseDomain, err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var zones []struct {
		ID string `json:"id"`
	}
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &zones); err != nil {
			return "", fmt.Errorf("decode zone list: %w", err)
		}
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("zone not found for domain %q", baseDomain)
	}
	return zones[0].ID, nil
}

// UpsertCNAME points fqdn at target: list records by name, PUT-update the
// existing record id when found, POST-create otherwise. The target is
// always overwritten and the proxy flag is fixed on, so calling twice with
// different targets leaves exactly one record carrying the second target.
func (c *DNSClient) UpsertCNAME(ctx context.Context, zoneID, fqdn, target string) error {
	existingID, err := c.findRecordID(ctx, zoneID, fqdn)
	if err != nil {
		return err
	}

	record := dnsRecord{
		Type:    "CNAME",
		Name:    fqdn,
		Content: target,
		TTL:     1, // auto
		Proxied: true,
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if existingID != "" {
		log.Printf("[DNSClient] DNS record exists for %s, updating target to %s", fqdn, target)
		_, err = doWithRetry(ctx, c.httpClient, request{
			method:  http.MethodPut,
			url:     fmt.Sprintf("%s/zones/%s/dns_records/%s", c.baseURL, zoneID, existingID),
			headers: c.authHeaders(),
			body:    body,
		})
		if err != nil {
			return fmt.Errorf("update CNAME %q: %w", fqdn, err)
		}
		return nil
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodPost,
		url:     fmt.Sprintf("%s/zones/%s/dns_records", c.baseURL, zoneID),
		headers: c.authHeaders(),
		body:    body,
	})
	if err != nil {
		return fmt.Errorf("create CNAME %q: %w", fqdn, err)
	}

	log.Printf("[DNSClient] Created CNAME %s -> %s", fqdn, target)
	return nil
}

// DeleteRecordByName removes the record for fqdn if present. Used by the
// teardown reaper.
func (c *DNSClient) DeleteRecordByName(ctx context.Context, zoneID, fqdn string) error {
	existingID, err := c.findRecordID(ctx, zoneID, fqdn)
	if err != nil {
		return err
	}
	if existingID == "" {
		return nil
	}

	_, err = doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodDelete,
		url:     fmt.Sprintf("%s/zones/%s/dns_records/%s", c.baseURL, zoneID, existingID),
		headers: c.authHeaders(),
	})
	if err != nil {
		return fmt.Errorf("delete DNS record %q: %w", fqdn, err)
	}
	return nil
}

// findRecordID lists records filtered by name; the name is the natural key
// every caller must share for the guard to hold.
func (c *DNSClient) findRecordID(ctx context.Context, zoneID, fqdn string) (string, error) {
	respBody, err := doWithRetry(ctx, c.httpClient, request{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/zones/%s/dns_records?name=%s", c.baseURL, zoneID, url.QueryEscape(fqdn)),
		headers: c.authHeaders(),
	})
	if err != nil {
		return "", fmt.Errorf("list DNS records for %q: %w", fqdn, err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var records []dnsRecord
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &records); err != nil {
			return "", fmt.Errorf("decode record list: %w", err)
		}
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].ID, nil
}

func (c *DNSClient) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiToken,
	}
}
