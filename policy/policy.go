// Package policy decides whether one user may moderate another, based on a configurable expr expression.
package policy

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/nightlife-social/livechat/types"
)

// DefaultExpression lets DJs and admins mute anyone except admins, and admins mute anyone.
const DefaultExpression = `Target.Role != "ADMIN" || Actor.Role == "ADMIN"`

// Policy is a compiled moderation expression. It is safe for concurrent use.
type Policy struct {
	expression string
	prog       *vm.Program
}

// New compiles expression, the empty string selects DefaultExpression.
func New(expression string) (*Policy, error) {
	if expression == "" {
		expression = DefaultExpression
	}
	prog, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile moderation policy %q: %w", expression, err)
	}
	return &Policy{expression: expression, prog: prog}, nil
}

func (p *Policy) String() string {
	return p.expression
}

// Allowed evaluates the policy for actor acting on target in roomId.
func (p *Policy) Allowed(actor, target types.User, roomId string) (bool, error) {
	env := Env{
		Actor:  fromUser(actor),
		Target: fromUser(target),
		Room:   Room{Id: roomId, Kind: string(types.RoomKindOf(roomId))},
	}
	res, err := expr.Run(p.prog, env)
	if err != nil {
		return false, err
	}
	allowed, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("moderation policy returned %T", res)
	}
	return allowed, nil
}

func fromUser(u types.User) User {
	return User{Id: u.Id, Name: u.Name, Role: string(u.Role)}
}
