// Package silo wires gorm entity managers and mongo document managers into a
// host application.
//
// A registry holds uniquely named manager builders created from a settings
// map or a YAML file. Managers are built on first use. Repositories add
// dynamic finders (findByTitle, countByAuthor, removeOneByEmail, ...) on top
// of the managers, and every builder contributes maintenance commands to one
// cobra application.
//
// Usage:
//
//	reg, err := silo.Open("silo.yaml",
//		silo.WithEntities(User{}),
//		silo.WithLogger(logger),
//	)
//
//	em, err := reg.Manager(ctx, "entityManager")
//	users, err := silo.RepositoryOf[User](em)
//	alice, err := users.Call(ctx, "findOneByEmail", "alice@example.com")
package silo
