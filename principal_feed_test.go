package tenancy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy"
)

func TestPrincipalFeed(t *testing.T) {
	feed := tenancy.NewPrincipalFeed()

	var first []*tenancy.Principal
	unsubscribe := feed.Subscribe(func(p *tenancy.Principal) {
		first = append(first, p)
	})

	require.Len(t, first, 1)
	assert.Nil(t, first[0], "subscribers get the current principal right away")

	feed.Publish(&tenancy.Principal{ID: "p-1", Identifier: ownerEmail})

	var second []*tenancy.Principal
	feed.Subscribe(func(p *tenancy.Principal) {
		second = append(second, p)
	})
	require.Len(t, second, 1)
	assert.Equal(t, "p-1", second[0].ID)

	unsubscribe()
	unsubscribe()
	feed.Publish(nil)

	assert.Len(t, first, 2, "no deliveries after unsubscribe")
	require.Len(t, second, 2)
	assert.Nil(t, second[1])
	assert.Nil(t, feed.Current())
}

func TestPrincipalFeedCopiesPrincipals(t *testing.T) {
	feed := tenancy.NewPrincipalFeed()
	p := &tenancy.Principal{ID: "p-1", Identifier: ownerEmail}
	feed.Publish(p)

	p.ID = "mutated"
	current := feed.Current()
	require.NotNil(t, current)
	assert.Equal(t, "p-1", current.ID)

	current.ID = "mutated again"
	assert.Equal(t, "p-1", feed.Current().ID)
}
