package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"sensor_report_loader/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const unreadLabel = "UNREAD"

// Gmail implements Mailbox on the Gmail REST API.
type Gmail struct {
	svc  *gmail.Service
	user string
}

// NewGmail creates a client for user ("me" for the token owner).
func NewGmail(ctx context.Context, user string, opts ...option.ClientOption) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	if user == "" {
		user = "me"
	}
	return &Gmail{svc: svc, user: user}, nil
}

// NewGmailFromFiles builds an authorized client from the OAuth client
// credentials file and a previously granted token file.
func NewGmailFromFiles(ctx context.Context, cfg config.MailConfig) (*Gmail, error) {
	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(creds, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	token, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	client := oauthCfg.Client(ctx, token)
	return NewGmail(ctx, cfg.User, option.WithHTTPClient(client))
}

// loadToken reads either the oauth2 token layout or the layout written by
// google-auth authorized-user tokens (token / refresh_token / expiry).
func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var raw struct {
		AccessToken  string `json:"access_token"`
		Token        string `json:"token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		Expiry       string `json:"expiry"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", path, err)
	}

	token := &oauth2.Token{
		AccessToken:  raw.AccessToken,
		TokenType:    raw.TokenType,
		RefreshToken: raw.RefreshToken,
	}
	if token.AccessToken == "" {
		token.AccessToken = raw.Token
	}
	if raw.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339Nano, raw.Expiry)
		if err != nil {
			// authorized-user files may carry naive UTC timestamps
			expiry, err = time.Parse("2006-01-02T15:04:05.999999", strings.TrimSuffix(raw.Expiry, "Z"))
		}
		if err != nil {
			return nil, fmt.Errorf("invalid token expiry %q: %w", raw.Expiry, err)
		}
		token.Expiry = expiry
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds neither an access nor a refresh token", path)
	}

	return token, nil
}

func (g *Gmail) Search(ctx context.Context, query, pageToken string) ([]string, string, error) {
	call := g.svc.Users.Messages.List(g.user).Q(query).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}

func (g *Gmail) Message(ctx context.Context, id string) (*Part, error) {
	msg, err := g.svc.Users.Messages.Get(g.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("message %s: %w", id, ErrNoPayload)
	}
	root := convertPart(msg.Payload)
	return &root, nil
}

func convertPart(p *gmail.MessagePart) Part {
	part := Part{Filename: p.Filename, MimeType: p.MimeType}
	if p.Body != nil {
		part.AttachmentID = p.Body.AttachmentId
	}
	for _, child := range p.Parts {
		if child != nil {
			part.Parts = append(part.Parts, convertPart(child))
		}
	}
	return part
}

func (g *Gmail) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := g.svc.Users.Messages.Attachments.Get(g.user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return decodeBase64URL(body.Data)
}

func (g *Gmail) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	_, err := g.svc.Users.Messages.Modify(g.user, id, req).Context(ctx).Do()
	return err
}

// decodeBase64URL accepts padded and unpadded url-safe base64.
func decodeBase64URL(data string) ([]byte, error) {
	if out, err := base64.URLEncoding.DecodeString(data); err == nil {
		return out, nil
	}
	out, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid attachment encoding: %w", err)
	}
	return out, nil
}
