// file: internal/kavita/client.go
// version: 1.5.1
// guid: 8c4b7e1a-2d9f-4f36-b8a5-3e6c0d9b4f27

// Package kavita is a stateless client for the Kavita REST API. JSON endpoints
// authenticate with a bearer token, image endpoints with an apiKey query
// parameter; both mechanisms are carried by the same client.
package kavita

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LoginTimeout bounds the login call so a dead server is detected quickly and
// reported as a connectivity failure rather than hanging the caller.
const LoginTimeout = 5 * time.Second

const defaultPort = "5000"

// Client issues requests against one Kavita server. Token and APIKey are set
// by the owner after a successful login; the zero values issue unauthenticated
// requests.
type Client struct {
	BaseURL string
	Token   string
	APIKey  string

	http      *http.Client
	loginHTTP *http.Client
}

// NewClient builds a client for the given server address. The address may be
// "host:port" or a bare host, in which case the default Kavita port is used.
func NewClient(ip string) *Client {
	host := ip
	if !strings.Contains(host, ":") {
		host = host + ":" + defaultPort
	}
	return &Client{
		BaseURL:   fmt.Sprintf("http://%s/api", host),
		http:      &http.Client{},
		loginHTTP: &http.Client{Timeout: LoginTimeout},
	}
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
}

// LibraryInfo is one entry of the libraries listing.
type LibraryInfo struct {
	ID    int    `json:"id"`
	Title string `json:"name"`
}

// SeriesInfo is one entry of the filtered series listing.
type SeriesInfo struct {
	ID        int    `json:"id"`
	Title     string `json:"name"`
	PagesRead int    `json:"pagesRead"`
	Pages     int    `json:"pages"`
}

// VolumeInfo is one volume of a series detail, flattened to the first chapter
// id (the reading unit used for page fetches).
type VolumeInfo struct {
	ID        int
	ChapterID int
	Title     string
	PagesRead int
	Pages     int
}

// Progress is a reading-position report.
type Progress struct {
	SeriesID  int `json:"seriesId"`
	VolumeID  int `json:"volumeId"`
	ChapterID int `json:"chapterId"`
	PageNum   int `json:"pageNum"`
}

// Login authenticates and returns the token and identity. Transport failures
// and timeouts come back as *ConnectivityError, anything else the server said
// as *ProtocolError.
func (c *Client) Login(username, password, apiKey string) (*LoginResult, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
		"apiKey":   apiKey,
	})

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/Account/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.loginHTTP.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Op: "login", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProtocolError{Op: "login", Status: resp.StatusCode, Body: snippet(data)}
	}

	var result LoginResult
	if err := json.Unmarshal(data, &result); err != nil || result.Token == "" {
		return nil, &ProtocolError{Op: "login", Status: resp.StatusCode, Body: snippet(data)}
	}
	return &result, nil
}

// Libraries lists the server's libraries.
func (c *Client) Libraries() ([]LibraryInfo, error) {
	data, err := c.getJSON("libraries", "/library/libraries")
	if err != nil {
		return nil, err
	}
	var out []LibraryInfo
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ProtocolError{Op: "libraries", Status: http.StatusOK, Body: snippet(data)}
	}
	return out, nil
}

// Series lists the series of one library via the v2 filter endpoint.
func (c *Client) Series(libraryID int) ([]SeriesInfo, error) {
	// Filter statement: field 19 is the library id on the Kavita side.
	filter := map[string]any{
		"statements": []map[string]any{
			{"comparison": 0, "field": 19, "value": fmt.Sprintf("%d", libraryID)},
		},
		"combination": 1,
		"limitTo":     0,
	}
	data, err := c.postJSON("series", "/series/v2", filter)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var out []SeriesInfo
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ProtocolError{Op: "series", Status: http.StatusOK, Body: snippet(data)}
	}
	return out, nil
}

type seriesDetailResponse struct {
	Volumes []struct {
		ID        int    `json:"id"`
		Title     string `json:"name"`
		PagesRead int    `json:"pagesRead"`
		Pages     int    `json:"pages"`
		Chapters  []struct {
			ID int `json:"id"`
		} `json:"chapters"`
	} `json:"volumes"`
}

// SeriesDetail returns the volumes of a series. Volumes with no chapters are
// skipped; they have no reading unit to fetch pages from.
func (c *Client) SeriesDetail(seriesID int) ([]VolumeInfo, error) {
	path := fmt.Sprintf("/series/series-detail?seriesId=%d&apiKey=%s", seriesID, c.APIKey)
	data, err := c.getJSON("series-detail", path)
	if err != nil {
		return nil, err
	}
	var detail seriesDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, &ProtocolError{Op: "series-detail", Status: http.StatusOK, Body: snippet(data)}
	}

	var out []VolumeInfo
	for _, vol := range detail.Volumes {
		if len(vol.Chapters) == 0 {
			continue
		}
		out = append(out, VolumeInfo{
			ID:        vol.ID,
			ChapterID: vol.Chapters[0].ID,
			Title:     vol.Title,
			PagesRead: vol.PagesRead,
			Pages:     vol.Pages,
		})
	}
	return out, nil
}

// SeriesCover fetches the raw cover image of a series.
func (c *Client) SeriesCover(seriesID int) ([]byte, error) {
	return c.getImage("series-cover",
		fmt.Sprintf("/image/series-cover?seriesId=%d&apiKey=%s", seriesID, c.APIKey))
}

// VolumeCover fetches the raw cover image of a volume.
func (c *Client) VolumeCover(volumeID int) ([]byte, error) {
	return c.getImage("volume-cover",
		fmt.Sprintf("/image/volume-cover?volumeId=%d&apiKey=%s", volumeID, c.APIKey))
}

// PageImage fetches one page of a chapter.
func (c *Client) PageImage(chapterID, page int) ([]byte, error) {
	return c.getImage("page",
		fmt.Sprintf("/reader/image?chapterId=%d&apiKey=%s&page=%d", chapterID, c.APIKey, page))
}

// SaveProgress reports a reading position.
func (c *Client) SaveProgress(p Progress) error {
	_, err := c.postJSON("progress", "/reader/progress", p)
	return err
}

// MarkVolumeRead marks a volume fully read on the server.
func (c *Client) MarkVolumeRead(seriesID, volumeID int) error {
	_, err := c.postJSON("mark-read", "/reader/mark-volume-read",
		map[string]int{"seriesId": seriesID, "volumeId": volumeID})
	return err
}

// MarkVolumeUnread marks a volume unread on the server.
func (c *Client) MarkVolumeUnread(seriesID, volumeID int) error {
	_, err := c.postJSON("mark-unread", "/reader/mark-volume-unread",
		map[string]int{"seriesId": seriesID, "volumeId": volumeID})
	return err
}

// ScanAll asks the server to force-rescan every library.
func (c *Client) ScanAll() error {
	_, err := c.postJSON("scan-all", "/library/scan-all", map[string]bool{"force": true})
	return err
}

func (c *Client) getJSON(op, path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)
	return c.do(op, req)
}

func (c *Client) postJSON(op, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)
	return c.do(op, req)
}

func (c *Client) getImage(op, path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	return c.do(op, req)
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}
