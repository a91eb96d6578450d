package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roberto/internal/record"
	"github.com/roach88/roberto/internal/testutil"
)

func TestList_Empty(t *testing.T) {
	rootOpts := newTestOptions(t, "text")

	out, err := execute(t, NewListCommand(rootOpts))
	require.NoError(t, err)
	assert.Equal(t, "no notifications\n", out)
}

func TestList_JSON(t *testing.T) {
	rootOpts := newTestOptions(t, "json")
	seed(t, rootOpts.Database, testutil.Notifications(100, 200, 300)...)

	out, err := execute(t, NewListCommand(rootOpts), "--limit", "2")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   ListResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, testutil.Notifications(100, 200), resp.Data.Notifications)
}

func TestList_TextTable(t *testing.T) {
	rootOpts := newTestOptions(t, "text")
	seed(t, rootOpts.Database, testutil.Notification(7, time.Now().UnixMilli()))

	out, err := execute(t, NewListCommand(rootOpts))
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "com.example.app")
	assert.Contains(t, out, "Title 7")
	assert.Contains(t, out, "notification 7")
}

func TestList_NegativeLimit(t *testing.T) {
	rootOpts := newTestOptions(t, "text")

	_, err := execute(t, NewListCommand(rootOpts), "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFilterNotifications(t *testing.T) {
	chat := testutil.Notification(1, 1)
	chat.AppPackageName = "com.chat"
	mail := testutil.Notification(2, 2)
	mail.AppPackageName = "com.mail"
	chat2 := testutil.Notification(3, 3)
	chat2.AppPackageName = "com.chat"
	all := []record.Notification{chat, mail, chat2}

	assert.Equal(t, all, filterNotifications(all, "", 0))
	assert.Equal(t, []record.Notification{chat, chat2}, filterNotifications(all, "com.chat", 0))
	assert.Equal(t, []record.Notification{chat}, filterNotifications(all, "com.chat", 1))
	assert.Empty(t, filterNotifications(all, "com.none", 0))
}

func TestWriteTable_NullFields(t *testing.T) {
	buf := &bytes.Buffer{}
	now := time.UnixMilli(10_000)
	require.NoError(t, writeTable(buf, []record.Notification{{
		ID:             1,
		UniqueID:       "u",
		Key:            "k",
		Timestamp:      10_000,
		AppPackageName: "com.app",
	}}, now))

	assert.Contains(t, buf.String(), "ID")
	assert.Contains(t, buf.String(), "com.app")
	assert.Contains(t, buf.String(), "now")
	assert.Equal(t, "-", deref(nil))
	assert.Equal(t, "x", deref(record.String("x")))
}

func TestWriteTable_OneRowPerNotification(t *testing.T) {
	buf := &bytes.Buffer{}
	ns := []record.Notification{
		testutil.Notification(1, 100),
		testutil.Notification(2, 200),
	}
	require.NoError(t, writeTable(buf, ns, time.UnixMilli(300)))

	out := buf.String()
	assert.Contains(t, out, *ns[0].Title)
	assert.Contains(t, out, *ns[1].Title)
	assert.Less(t, strings.Index(out, *ns[0].Title), strings.Index(out, *ns[1].Title),
		"rows keep storage order")
}
