package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserversNotifiedInSubscriptionOrder(t *testing.T) {
	var bus observerBus
	var order []string

	bus.onPlayer(func(PlayerEvent) { order = append(order, "first") })
	bus.onPlayer(func(PlayerEvent) { order = append(order, "second") })
	bus.onGame(func(GameEvent) { order = append(order, "game") })
	bus.onLeaderboard(func(LeaderboardEvent) { order = append(order, "leaderboard") })

	bus.notifyPlayer(PlayerEvent{Name: "Anna"})
	bus.notifyGame(GameEvent{})
	bus.notifyLeaderboard(LeaderboardEvent{})

	assert.Equal(t, []string{"first", "second", "game", "leaderboard"}, order)
}

func TestNotifyWithoutObserversIsNoOp(t *testing.T) {
	var bus observerBus
	bus.notifyPlayer(PlayerEvent{})
	bus.notifyLeaderboard(LeaderboardEvent{})
	bus.notifyGame(GameEvent{})
}

func TestObserverMaySubscribeDuringNotification(t *testing.T) {
	var bus observerBus
	calls := 0
	bus.onPlayer(func(PlayerEvent) {
		calls++
		// Subscribing from inside a callback must not deadlock; the new
		// observer only sees later notifications.
		bus.onPlayer(func(PlayerEvent) { calls += 10 })
	})

	bus.notifyPlayer(PlayerEvent{})
	assert.Equal(t, 1, calls)

	bus.notifyPlayer(PlayerEvent{})
	assert.Equal(t, 12, calls)
}
