package alm

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/connector/shared/alm/almtest"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	entity := map[string]interface{}{
		"Type": "defect",
		"Fields": []interface{}{
			map[string]interface{}{"Name": "id", "values": []interface{}{map[string]interface{}{"value": "7"}}},
			map[string]interface{}{"Name": "owner", "values": []interface{}{}},
			map[string]interface{}{"Name": "tags", "values": []interface{}{
				map[string]interface{}{"value": "ui"},
				map[string]interface{}{"value": "login"},
			}},
			map[string]interface{}{"values": []interface{}{}},
		},
	}

	rec := Flatten(entity)
	assert.Equal(t, core.Record{
		"id":          "7",
		"owner":       nil,
		"tags":        []interface{}{"ui", "login"},
		"entity_type": "defect",
	}, rec)

	plain := map[string]interface{}{"id": "1", "name": "already flat"}
	assert.Equal(t, core.Record(plain), Flatten(plain))
}

func TestParseConfig(t *testing.T) {
	valid := core.Config{
		"base_url": "https://alm.example.com/",
		"username": "qa",
		"password": "secret",
		"domain":   "DEFAULT",
		"project":  "Relay",
	}
	cfg, err := ParseConfig(valid)
	require.NoError(t, err)
	assert.Equal(t, "https://alm.example.com", cfg.BaseURL)
	assert.True(t, cfg.VerifySSL)
	assert.Equal(t, float64(10), cfg.RateLimit)

	for _, field := range []string{"base_url", "username", "password", "domain", "project"} {
		t.Run("missing "+field, func(t *testing.T) {
			broken := core.Config{}
			for k, v := range valid {
				if k != field {
					broken[k] = v
				}
			}
			_, err := ParseConfig(broken)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, field, errors.Details(err)["field"])
		})
	}

	_, err = ParseConfig(core.Config{"base_url": "ftp://alm", "username": "u", "password": "p", "domain": "d", "project": "p"})
	assert.Equal(t, "base_url", errors.Details(err)["field"])
}

func newTestClient(t *testing.T, server *almtest.Server, password string) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		BaseURL:   server.URL,
		Username:  almtest.Username,
		Password:  password,
		Domain:    "DEFAULT",
		Project:   "Relay",
		VerifySSL: true,
		RateLimit: 1000,
	}, "alm")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_Authenticate(t *testing.T) {
	server := almtest.NewServer(t)
	ctx := context.Background()

	bad := newTestClient(t, server, "wrong")
	err := bad.Authenticate(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, http.StatusUnauthorized, errors.Details(err)["status_code"])

	// without the session cookie collection requests are rejected
	_, err = bad.Page(ctx, "defects", nil, 1, 10)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))

	good := newTestClient(t, server, almtest.Password)
	require.NoError(t, good.Authenticate(ctx))
	_, err = good.Page(ctx, "defects", nil, 1, 10)
	require.NoError(t, err)
	good.Logout(ctx)
	assert.Equal(t, 1, server.Requests("logout"))
}

func TestClient_PageAndFilters(t *testing.T) {
	server := almtest.NewServer(t)
	server.AddRecords("defects",
		core.Record{"id": "1", "status": "Open"},
		core.Record{"id": "2", "status": "Closed"},
		core.Record{"id": "3", "status": "Open"},
	)
	c := newTestClient(t, server, almtest.Password)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	page, err := c.Page(ctx, "defects", url.Values{"status": {"Open"}}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "3", page[1].ID())

	page, err = c.Page(ctx, "defects", nil, 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "3", page[0].ID())
}

func TestClient_SubResources(t *testing.T) {
	server := almtest.NewServer(t)
	server.Add("test-set-folders",
		almtest.Entity{Parent: "0", Fields: core.Record{"id": "10", "name": "Release 1"}},
		almtest.Entity{Parent: "10", Fields: core.Record{"id": "11", "name": "Sprint's end"}},
	)
	server.SetAudits("42", core.Record{"id": "a1", "action": "UPDATE"})
	server.SetAttachment("42", "screen shot.png", []byte("png-bytes"))
	server.SetRunSteps("42", "5", core.Record{"name": "Step 1", "status": "Passed"})
	server.SetRunSteps("42", "9", core.Record{"name": "Step 1", "status": "Failed"})

	c := newTestClient(t, server, almtest.Password)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	ids, err := c.Children(ctx, "test-set-folders", "10", "Sprint's end")
	require.NoError(t, err)
	assert.Equal(t, []string{"11"}, ids)

	ids, err = c.Children(ctx, "test-set-folders", "0", "Missing")
	require.NoError(t, err)
	assert.Empty(t, ids)

	audits, err := c.Audits(ctx, "test-instance", "42")
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "UPDATE", audits[0]["action"])

	attachments, err := c.Attachments(ctx, "test-instances", "42")
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "screen shot.png", attachments[0].Name)
	assert.Equal(t, []byte("png-bytes"), attachments[0].Data)
	assert.Equal(t, int64(9), attachments[0].Size)

	steps, err := c.RunSteps(ctx, "42")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Failed", steps[0]["status"])

	steps, err = c.RunSteps(ctx, "43")
	require.NoError(t, err)
	assert.Nil(t, steps)
}

func TestQuery(t *testing.T) {
	q := Query(Cond("parent-id", "0"), Cond("name", Quote("it's")))
	assert.Equal(t, `{parent-id[0];name['it\'s']}`, q)
	assert.Equal(t, map[string]string{"parent-id": "0", "name": "it's"}, almtest.ParseQuery(q))
}
