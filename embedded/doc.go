// Package embedded runs transactional caches inside the application process.
//
// A CacheManager represents one node. It owns the caches defined on that node and connects them to the
// other nodes through a cluster.Membership and a transport. Each Cache composes an entry store, a
// transaction manager with its two-phase coordinator, an event notifier and an expiration reaper.
//
//	m, err := embedded.NewCacheManager(embedded.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	defer m.Stop(ctx)
//
//	users, err := embedded.GetCache[string, User](m, "users")
//	if err != nil {
//		return err
//	}
//	m.Start(ctx)
//
//	err = users.TransactionManager().Run(ctx, func(ctx context.Context) error {
//		return users.Put(ctx, "alice", alice, embedded.WithLifespan(time.Hour))
//	})
package embedded
