/*
Package resilience guards calls into collaborator processes with circuit
breakers.

A provider ability that keeps refusing binds should not be dialled on
every form refresh. Group keeps one Breaker per key (the provider bundle
and ability) so a misbehaving provider trips only its own circuit.

	group := resilience.NewGroup(resilience.Settings{
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 5 },
	})
	err := group.Execute("com.example::FormAbility", func() error {
		return connector.Connect(ctx, want, conn)
	})

States:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                            |
	                                        [failure] -> Open
*/
package resilience
