package mailer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"dripline/automation"
	"dripline/models"
	"dripline/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

const testKey = "0123456789abcdef0123456789abcdef"

type fakeDirectory struct {
	templates map[uint]models.Template
	sender    *models.Sender
	lookups   int
}

func (d *fakeDirectory) GetTemplate(_ context.Context, companyID, id uint) (*models.Template, error) {
	t, ok := d.templates[id]
	if !ok || t.CompanyID != companyID {
		return nil, errors.New("template not found")
	}
	return &t, nil
}

func (d *fakeDirectory) ActiveSender(_ context.Context, companyID uint) (*models.Sender, error) {
	d.lookups++
	if d.sender == nil || d.sender.CompanyID != companyID {
		return nil, errors.New("company has no active sender")
	}
	s := *d.sender
	return &s, nil
}

type fakeTransport struct {
	mu       sync.Mutex
	password string
	sent     []*gomail.Message
	err      error
}

func (f *fakeTransport) DialAndSend(m ...*gomail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newTestMailer(t *testing.T) (*SMTPMailer, *fakeDirectory, *fakeTransport) {
	t.Helper()

	password, err := utils.Encrypt(testKey, "s3cret")
	require.NoError(t, err)

	dir := &fakeDirectory{
		templates: map[uint]models.Template{
			4: {
				Model:     gorm.Model{ID: 4},
				CompanyID: 1,
				Subject:   "Quick question for {{.Company}} & co",
				Body:      `<p>Hi {{.FirstName}},</p><p>{{index .Custom "offer"}} off for {{.Custom.plan}}</p>`,
			},
		},
		sender: &models.Sender{
			CompanyID:    1,
			FromEmail:    "ana@acme.test",
			FromName:     "Ana from Acme",
			SMTPHost:     "smtp.acme.test",
			SMTPPort:     587,
			SMTPPassword: password,
		},
	}
	transport := &fakeTransport{}

	m, err := NewSMTPMailer(Config{
		Directory:       dir,
		EncryptionKey:   testKey,
		MessageIDDomain: "mail.acme.test",
		NewTransport: func(_ models.Sender, password string) Transport {
			transport.password = password
			return transport
		},
	})
	require.NoError(t, err)

	return m, dir, transport
}

func sendRequest() automation.SendRequest {
	return automation.SendRequest{
		Lead: models.Lead{
			Model:        gorm.Model{ID: 9},
			CompanyID:    1,
			Email:        "bob@client.test",
			FirstName:    "Bob",
			LastName:     "Stone",
			Company:      "Stone <Works>",
			CustomFields: map[string]any{"plan": "starter", "offer": "5%"},
		},
		TemplateID:     4,
		CustomData:     map[string]any{"offer": "20%"},
		Actor:          automation.Actor{UserID: 2, CompanyID: 1},
		IdempotencyKey: "seq-1-enr-9-step-0",
	}
}

func TestSendToLead(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	m, _, transport := newTestMailer(t)

	res, err := m.SendToLead(context.Background(), sendRequest())
	require.NoError(err)
	require.Len(transport.sent, 1)
	assert.Equal("s3cret", transport.password)

	msg := transport.sent[0]
	assert.Equal([]string{res.MessageID}, msg.GetHeader("Message-ID"))
	assert.Equal([]string{"seq-1-enr-9-step-0"}, msg.GetHeader("X-Idempotency-Key"))
	assert.Equal([]string{"Quick question for Stone <Works> & co"}, msg.GetHeader("Subject"))
	assert.Contains(msg.GetHeader("To")[0], "bob@client.test")
	assert.Contains(msg.GetHeader("From")[0], "ana@acme.test")

	var raw bytes.Buffer
	_, err = msg.WriteTo(&raw)
	require.NoError(err)
	assert.Contains(raw.String(), "Hi Bob,")
	// Step data overrides the lead's custom fields.
	assert.Contains(raw.String(), "20% off for starter")
	assert.NotContains(raw.String(), "5% off")
}

func TestSendToLeadMessageIDFollowsIdempotencyKey(t *testing.T) {
	m, _, _ := newTestMailer(t)
	ctx := context.Background()

	first, err := m.SendToLead(ctx, sendRequest())
	require.NoError(t, err)
	second, err := m.SendToLead(ctx, sendRequest())
	require.NoError(t, err)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Regexp(t, `^<[0-9a-f-]{36}@mail\.acme\.test>$`, first.MessageID)

	other := sendRequest()
	other.IdempotencyKey = "seq-1-enr-9-step-1"
	third, err := m.SendToLead(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.MessageID, third.MessageID)
}

func TestSendToLeadCachesClientPerCompany(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m, dir, transport := newTestMailer(t)

	for i := 0; i < 3; i++ {
		_, err := m.SendToLead(ctx, sendRequest())
		require.NoError(err)
	}
	require.Equal(1, dir.lookups)
	require.Equal(1, m.cache.Len())

	// A failed send drops the cached client so the next send reloads the sender.
	transport.err = errors.New("535 authentication failed")
	_, err := m.SendToLead(ctx, sendRequest())
	require.Error(err)
	require.Contains(err.Error(), "535 authentication failed")
	require.Equal(0, m.cache.Len())

	transport.err = nil
	_, err = m.SendToLead(ctx, sendRequest())
	require.NoError(err)
	require.Equal(2, dir.lookups)
}

func TestSendToLeadErrors(t *testing.T) {
	tests := map[string]struct {
		mutate func(req *automation.SendRequest, dir *fakeDirectory)
		expErr string
	}{
		"Unknown templates fail.": {
			mutate: func(req *automation.SendRequest, _ *fakeDirectory) { req.TemplateID = 99 },
			expErr: "load template 99",
		},
		"Templates of other companies are not used.": {
			mutate: func(req *automation.SendRequest, _ *fakeDirectory) { req.Actor.CompanyID = 2 },
			expErr: "load template 4",
		},
		"Companies without a sender fail.": {
			mutate: func(_ *automation.SendRequest, dir *fakeDirectory) { dir.sender = nil },
			expErr: "load sender for company 1",
		},
		"Undecryptable passwords fail.": {
			mutate: func(_ *automation.SendRequest, dir *fakeDirectory) { dir.sender.SMTPPassword = "!!not-base64!!" },
			expErr: "decrypt SMTP password",
		},
		"Broken templates fail.": {
			mutate: func(_ *automation.SendRequest, dir *fakeDirectory) {
				tmpl := dir.templates[4]
				tmpl.Body = "{{.FirstName"
				dir.templates[4] = tmpl
			},
			expErr: "parse body of template 4",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m, dir, transport := newTestMailer(t)
			req := sendRequest()
			test.mutate(&req, dir)

			_, err := m.SendToLead(context.Background(), req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.expErr)
			assert.Empty(t, transport.sent)
		})
	}
}

func TestClientCache(t *testing.T) {
	assert := assert.New(t)

	cache := NewClientCache()
	calls := 0
	create := func() (*Client, error) {
		calls++
		return &Client{Sender: models.Sender{FromEmail: "x@acme.test"}}, nil
	}

	a, err := cache.GetOrCreate(1, create)
	assert.NoError(err)
	b, err := cache.GetOrCreate(1, create)
	assert.NoError(err)
	assert.Same(a, b)
	assert.Equal(1, calls)

	_, err = cache.GetOrCreate(2, func() (*Client, error) { return nil, errors.New("boom") })
	assert.Error(err)
	assert.Equal(1, cache.Len())

	cache.Invalidate(1)
	assert.Equal(0, cache.Len())
	_, _ = cache.GetOrCreate(1, create)
	assert.Equal(2, calls)
}
