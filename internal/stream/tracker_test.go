package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_ReportsEachTransitionOnce(t *testing.T) {
	tr := NewTracker(false)

	up := tr.Apply(Set{rec("a", true, "best"), rec("b", false)})
	assert.Equal(t, []string{"a"}, urls(up.NewlyOnline))
	assert.Equal(t, []string{"a", "b"}, urls(up.All))
	assert.Equal(t, []string{"a"}, urls(up.Visible))

	up = tr.Apply(Set{rec("a", true, "best"), rec("b", false)})
	assert.Empty(t, up.NewlyOnline)

	up = tr.Apply(Set{rec("b", true), rec("a", false)})
	assert.Equal(t, []string{"b"}, urls(up.NewlyOnline))

	up = tr.Apply(Set{rec("a", true), rec("b", true)})
	assert.Equal(t, []string{"a"}, urls(up.NewlyOnline))

	assert.Equal(t, LastKnownState{"a": true, "b": true}, tr.LastKnown())
}

func TestTracker_StreamsMissingFromAnUpdateKeepTheirState(t *testing.T) {
	tr := NewTracker(false)
	tr.Apply(Set{rec("a", true)})

	up := tr.Apply(Set{rec("b", true)})
	assert.Equal(t, []string{"b"}, urls(up.NewlyOnline))

	up = tr.Apply(Set{rec("a", true)})
	assert.Empty(t, up.NewlyOnline)
}

func TestTracker_ShowOfflineRebuildsFromCache(t *testing.T) {
	tr := NewTracker(false)
	tr.Apply(Set{rec("a", false), rec("b", true), rec("c", false)})

	assert.Equal(t, []string{"b"}, urls(tr.Visible()))
	assert.False(t, tr.ShowOffline())

	assert.Equal(t, []string{"a", "b", "c"}, urls(tr.SetShowOffline(true)))
	assert.True(t, tr.ShowOffline())
	assert.Equal(t, []string{"a", "b", "c"}, urls(tr.Visible()))

	before := tr.LastKnown()
	tr.SetShowOffline(false)
	assert.Equal(t, before, tr.LastKnown())
	assert.Equal(t, []string{"b"}, urls(tr.Visible()))
}

func TestTracker_ReturnsCopies(t *testing.T) {
	tr := NewTracker(true)
	input := Set{rec("a", true, "720p")}
	tr.Apply(input)

	input[0].Qualities[0] = "mutated"
	all := tr.All()
	assert.Equal(t, "720p", all[0].Qualities[0])

	all[0].Qualities[0] = "mutated"
	assert.Equal(t, "720p", tr.Visible()[0].Qualities[0])
}

func TestSetHelpers(t *testing.T) {
	s := Set{rec("a", true), rec("b", false), rec("a", false)}

	assert.Equal(t, []string{"a"}, urls(s.Online()))

	r, ok := s.Find("a")
	assert.True(t, ok)
	assert.False(t, r.Online)

	_, ok = s.Find("zzz")
	assert.False(t, ok)

	assert.True(t, rec("a", true, "x").Equal(rec("a", true, "x")))
	assert.False(t, rec("a", true, "x").Equal(rec("a", true, "y")))
	assert.False(t, rec("a", true).Equal(rec("a", false)))
	assert.Nil(t, Set(nil).Clone())
}
