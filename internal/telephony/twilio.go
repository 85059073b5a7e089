package telephony

import (
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

	"voice-lead-agent/pkg/logger"
)

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioConfig configures the REST client used to place and control calls.
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	BaseURL     string
	HTTPClient  *http.Client
}

// TwilioClient places outbound calls through the Twilio REST API.
type TwilioClient struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewTwilioClient(cfg TwilioConfig, log *slog.Logger) (*TwilioClient, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	if cfg.PhoneNumber == "" {
		return nil, errors.New("telephony: twilio phone number is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.PhoneNumber,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		log:        logger.Component(log, "twilio"),
	}, nil
}

// Call is the subset of the Twilio call resource we read.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Duration  string `json:"duration"`
}

// OutboundCall describes a call to place. VoiceURL answers with the stream TwiML.
type OutboundCall struct {
	To             string
	VoiceURL       string
	StatusCallback string
}

// TwilioError is an error body returned by the REST API.
type TwilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// MakeCall places a call from the configured number.
func (c *TwilioClient) MakeCall(ctx context.Context, in OutboundCall) (Call, error) {
	if in.To == "" || in.VoiceURL == "" {
		return Call{}, errors.New("telephony: to and voice url are required")
	}

	form := url.Values{}
	form.Set("To", in.To)
	form.Set("From", c.from)
	form.Set("Url", in.VoiceURL)
	if in.StatusCallback != "" {
		form.Set("StatusCallback", in.StatusCallback)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	var call Call
	if err := c.do(ctx, http.MethodPost, c.callsURL(""), form, &call); err != nil {
		c.log.Error("failed to place call", "to", in.To, "err", err)
		return Call{}, err
	}
	c.log.Info("call placed", "call_sid", call.SID, "to", in.To)
	return call, nil
}

func (c *TwilioClient) FetchCall(ctx context.Context, callSID string) (Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodGet, c.callsURL(callSID), nil, &call); err != nil {
		return Call{}, err
	}
	return call, nil
}

// HangupCall ends an in-progress call.
func (c *TwilioClient) HangupCall(ctx context.Context, callSID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	if err := c.do(ctx, http.MethodPost, c.callsURL(callSID), form, nil); err != nil {
		return err
	}
	c.log.Info("call hung up", "call_sid", callSID)
	return nil
}

func (c *TwilioClient) callsURL(callSID string) string {
	if callSID == "" {
		return fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	}
	return fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, url.PathEscape(callSID))
}

func (c *TwilioClient) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr TwilioError
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("telephony: twilio status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("telephony: decode twilio response: %w", err)
	}
	return nil
}
