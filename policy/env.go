package policy

/*
Env is what moderation expressions see. Renaming a property breaks configured expressions, so keep it stable.
*/

type User struct {
	Id   string
	Name string
	Role string
}

type Room struct {
	Id   string
	Kind string
}

type Env struct {
	Actor  User
	Target User
	Room   Room
}
