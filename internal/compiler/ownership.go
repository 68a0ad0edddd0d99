package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prepline/manifest/internal/ir"
)

// assignOwnership attaches every parsed command to exactly one owning
// entity. Resolution, per command:
//
//   - an explicit entity: field wins, and any other entity also listing the
//     command is a conflict;
//   - otherwise exactly one entity must list the command in its commands
//     block;
//   - zero candidates is E210, more than one is E211.
//
// Ambiguous or unowned commands are rejected outright. Installing an owner
// heuristically would leave the runtime resolving names against an IR the
// author never wrote.
func assignOwnership(entities []parsedEntity, commands []parsedCommand) (*ir.Schema, []Diagnostic) {
	var diags []Diagnostic

	entityIdx := make(map[string]int, len(entities))
	for i, pe := range entities {
		entityIdx[pe.entity.Name] = i
	}

	// Entities that list each command name.
	claims := make(map[string][]string)
	for _, pe := range entities {
		for _, cmdName := range pe.commands {
			claims[cmdName] = append(claims[cmdName], pe.entity.Name)
		}
	}

	declared := make(map[string]*parsedCommand, len(commands))
	for i := range commands {
		declared[commands[i].cmd.Name] = &commands[i]
	}

	// An entity listing a command nobody declared is a dangling reference.
	for _, pe := range entities {
		for _, cmdName := range pe.commands {
			if _, ok := declared[cmdName]; !ok {
				diags = append(diags, errorf(ErrUnknownCommand, pe.pos.Pos(),
					"entity %s lists undeclared command %q", pe.entity.Name, cmdName))
			}
		}
	}

	owned := make(map[string][]ir.Command) // entity name -> owned commands, in claim order
	for i := range commands {
		pc := &commands[i]
		name := pc.cmd.Name
		claimants := claims[name]

		var owner string
		switch {
		case pc.entity != "":
			if _, ok := entityIdx[pc.entity]; !ok {
				diags = append(diags, errorf(ErrUnknownEntity, pc.pos.Pos(),
					"command %s references undeclared entity %q", name, pc.entity))
				continue
			}
			if conflicting := otherClaimants(claimants, pc.entity); len(conflicting) > 0 {
				diags = append(diags, errorf(ErrAmbiguousOwner, pc.pos.Pos(),
					"command %s declares entity %q but is also claimed by %s",
					name, pc.entity, strings.Join(conflicting, ", ")))
				continue
			}
			owner = pc.entity
		case len(claimants) == 1:
			owner = claimants[0]
		case len(claimants) == 0:
			diags = append(diags, errorf(ErrUnownedCommand, pc.pos.Pos(),
				"command %s is not owned by any entity", name))
			continue
		default:
			diags = append(diags, errorf(ErrAmbiguousOwner, pc.pos.Pos(),
				"command %s is claimed by multiple entities: %s",
				name, strings.Join(claimants, ", ")))
			continue
		}

		cmd := pc.cmd
		cmd.Entity = owner
		owned[owner] = append(owned[owner], cmd)
	}

	schema := &ir.Schema{Entities: make([]ir.Entity, len(entities))}
	for i, pe := range entities {
		e := pe.entity
		e.Commands = orderCommands(owned[e.Name], pe.commands)
		schema.Entities[i] = e
	}

	return schema, diags
}

// orderCommands sorts an entity's commands by their position in the
// entity's declared commands list; commands attached only via an explicit
// entity: field follow, sorted by name. The result is deterministic for
// identical source.
func orderCommands(cmds []ir.Command, listed []string) []ir.Command {
	if len(cmds) == 0 {
		return nil
	}
	rank := make(map[string]int, len(listed))
	for i, name := range listed {
		rank[name] = i
	}
	sort.SliceStable(cmds, func(i, j int) bool {
		ri, iListed := rank[cmds[i].Name]
		rj, jListed := rank[cmds[j].Name]
		switch {
		case iListed && jListed:
			return ri < rj
		case iListed:
			return true
		case jListed:
			return false
		default:
			return cmds[i].Name < cmds[j].Name
		}
	})
	return cmds
}

func otherClaimants(claimants []string, owner string) []string {
	var out []string
	for _, c := range claimants {
		if c != owner {
			out = append(out, c)
		}
	}
	return out
}

// EnforceOwnership verifies the ownership invariant on an already-built
// schema: every command carries the name of its containing entity, and no
// (entity, command) pair appears twice. The runtime engine refuses schemas
// that fail this check, so IR from untrusted serialized form cannot smuggle
// in ambiguous lookups.
func EnforceOwnership(s *ir.Schema) error {
	if s == nil {
		return fmt.Errorf("[%s] nil schema", ErrOwnershipInvalid)
	}

	seen := map[string]bool{}
	for _, e := range s.Entities {
		for _, c := range e.Commands {
			if c.Entity == "" {
				return fmt.Errorf("[%s] command %s has no owning entity", ErrOwnershipInvalid, c.Name)
			}
			if c.Entity != e.Name {
				return fmt.Errorf("[%s] command %s is stored under entity %s but claims owner %s",
					ErrOwnershipInvalid, c.Name, e.Name, c.Entity)
			}
			key := e.Name + "." + c.Name
			if seen[key] {
				return fmt.Errorf("[%s] command %s appears twice under entity %s",
					ErrOwnershipInvalid, c.Name, e.Name)
			}
			seen[key] = true
		}
	}
	return nil
}
