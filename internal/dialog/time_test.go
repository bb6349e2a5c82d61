package dialog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublishTimeVariants(t *testing.T) {
	t.Parallel()

	msk := time.FixedZone("UTC+03:00", 3*3600)
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC) // 12:00 in msk

	tests := []struct {
		name    string
		raw     string
		loc     *time.Location
		want    time.Time
		wantErr error
	}{
		{
			name: "clock today in offset",
			raw:  "15:30",
			loc:  msk,
			want: time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC),
		},
		{
			name: "full date",
			raw:  "11.05.2024 00:15",
			loc:  msk,
			want: time.Date(2024, 5, 10, 21, 15, 0, 0, time.UTC),
		},
		{
			name: "utc default when loc nil",
			raw:  "10:00",
			loc:  nil,
			want: time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC),
		},
		{name: "clock in past", raw: "11:00", loc: msk, wantErr: ErrPastTime},
		{name: "present instant", raw: "12:00", loc: msk, wantErr: ErrPastTime},
		{name: "garbage", raw: "soon", loc: msk, wantErr: ErrBadTimeFormat},
		{name: "bad date order", raw: "2024.05.11 10:00", loc: msk, wantErr: ErrBadTimeFormat},
		{name: "empty", raw: "", loc: msk, wantErr: ErrBadTimeFormat},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePublishTime(tt.raw, tt.loc, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
