// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package suppression

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/models"
	"github.com/NofaBC/Smart-LeadMailer-Pro/internal/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in         string
		wantEmail  string
		wantDomain string
		wantErr    bool
	}{
		{in: "Info@Foo.COM", wantEmail: "info@foo.com", wantDomain: "foo.com"},
		{in: "  contact@bar.io ", wantEmail: "contact@bar.io", wantDomain: "bar.io"},
		{in: "no-at-sign", wantErr: true},
		{in: "@foo.com", wantErr: true},
		{in: "info@", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			email, domain, err := Normalize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEmail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, email)
			assert.Equal(t, tt.wantDomain, domain)
		})
	}
}

func TestLedger_RecordAndCheck(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := NewLedger(mem)

	require.NoError(t, l.Record(ctx, "Info@Foo.com", "job-1"))
	require.NoError(t, l.Record(ctx, "info@foo.com", "job-2"), "duplicates are tolerated")

	got, err := l.IsSuppressed(ctx, "INFO@foo.com")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = l.IsSuppressed(ctx, "contact@foo.com")
	require.NoError(t, err)
	assert.False(t, got, "email-scope records do not cover siblings")

	recs := mem.Unsubscribes()
	require.Len(t, recs, 2)
	assert.Equal(t, "info@foo.com", recs[0].Email)
	assert.Equal(t, "foo.com", recs[0].Domain)
	assert.Equal(t, models.ScopeEmail, recs[0].Scope)
	assert.Equal(t, "job-1", recs[0].JobID)
}

func TestLedger_RecordDomain(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(store.NewMemory())

	require.NoError(t, l.RecordDomain(ctx, "@Spam.example", ""))

	for _, email := range []string{"info@spam.example", "Hello@SPAM.example"} {
		got, err := l.IsSuppressed(ctx, email)
		require.NoError(t, err)
		assert.Truef(t, got, "%s should be suppressed", email)
	}

	assert.ErrorIs(t, l.RecordDomain(ctx, "  ", ""), ErrInvalidDomain)
	assert.ErrorIs(t, l.RecordDomain(ctx, "a@b.com", ""), ErrInvalidDomain)
}

type failingStore struct{}

func (failingStore) InsertUnsubscribe(context.Context, models.Unsubscribe) error {
	return errors.New("down")
}
func (failingStore) IsSuppressed(context.Context, string, string) (bool, error) {
	return false, errors.New("down")
}

func TestLedger_PropagatesStoreErrors(t *testing.T) {
	l := NewLedger(failingStore{})

	_, err := l.IsSuppressed(context.Background(), "info@foo.com")
	assert.Error(t, err)
	assert.Error(t, l.Record(context.Background(), "info@foo.com", ""))

	_, err = l.IsSuppressed(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}
