// Package oembed resolves source titles through the YouTube oEmbed
// endpoint. It runs before download so even failed jobs carry a title.
package oembed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const endpoint = "https://www.youtube.com/oembed"

type Adapter struct {
	client *http.Client
}

func New() *Adapter {
	return &Adapter{client: &http.Client{Timeout: 5 * time.Second}}
}

func (a *Adapter) Title(ctx context.Context, locator string) (string, error) {
	u := endpoint + "?url=" + url.QueryEscape(locator) + "&format=json"
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oembed status %d", resp.StatusCode)
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Title, nil
}
