// Package memstore implements the store and tenancy contracts in memory.
// Tables follow the column layout of the PostgreSQL schema.
package memstore

import "github.com/willibrandon/tenantmove/internal/store"

func cols(spec ...string) []store.Column {
	out := make([]store.Column, 0, len(spec)/2)
	for i := 0; i+1 < len(spec); i += 2 {
		out = append(out, store.Column{Name: spec[i], Kind: store.Kind(spec[i+1])})
	}
	return out
}

type tableSchema struct {
	columns []store.Column
	unique  [][]string
}

var schema = map[string]tableSchema{
	"tenants_tenants": {
		columns: cols("id", "int", "alias", "text", "name", "text", "status", "int", "owner_id", "text",
			"industry", "int", "creationdatetime", "time", "last_modified", "time", "statuschanged", "time"),
		unique: [][]string{{"id"}, {"alias"}},
	},
	"tenants_quota": {
		columns: cols("tenant", "int", "name", "text", "max_total_size", "int", "active_users", "int"),
		unique:  [][]string{{"tenant"}},
	},
	"tenants_tariff": {
		columns: cols("id", "int", "tenant", "int", "tariff", "int", "stamp", "time", "comment", "text"),
		unique:  [][]string{{"id"}},
	},
	"tenants_quotarow": {
		columns: cols("tenant", "int", "path", "text", "counter", "int", "tag", "text", "user_id", "text", "last_modified", "time"),
		unique:  [][]string{{"tenant", "path", "user_id"}},
	},
	"core_user": {
		columns: cols("tenant", "int", "id", "text", "username", "text", "email", "text", "status", "int", "removed", "bool"),
		unique:  [][]string{{"id"}},
	},
	"core_usersecurity": {
		columns: cols("tenant", "int", "userid", "text", "pwdhash", "text"),
		unique:  [][]string{{"userid"}},
	},
	"core_usergroup": {
		columns: cols("tenant", "int", "userid", "text", "groupid", "text", "ref_type", "int", "removed", "bool"),
		unique:  [][]string{{"tenant", "userid", "groupid", "ref_type"}},
	},
	"core_acl": {
		columns: cols("tenant", "int", "subject", "text", "action", "text", "object", "text"),
	},
	"webstudio_settings": {
		columns: cols("tenantid", "int", "id", "text", "userid", "text", "data", "text"),
		unique:  [][]string{{"tenantid", "id", "userid"}},
	},
	"files_folder": {
		columns: cols("id", "int", "parent_id", "int", "title", "text", "folder_type", "int",
			"create_by", "text", "create_on", "time", "tenant_id", "int"),
		unique: [][]string{{"id"}},
	},
	"files_folder_tree": {
		columns: cols("folder_id", "int", "parent_id", "int", "level", "int"),
		unique:  [][]string{{"folder_id", "parent_id"}},
	},
	"files_file": {
		columns: cols("id", "int", "version", "int", "folder_id", "int", "title", "text", "content_length", "int",
			"thumb", "int", "create_by", "text", "create_on", "time", "tenant_id", "int"),
		unique: [][]string{{"id", "version"}},
	},
	"files_bunch_objects": {
		columns: cols("tenant_id", "int", "right_node", "text", "left_node", "text"),
		unique:  [][]string{{"tenant_id", "right_node"}},
	},
	"files_link": {
		columns: cols("tenant_id", "int", "source_id", "int", "linked_id", "int", "linked_for", "text"),
		unique:  [][]string{{"tenant_id", "source_id", "linked_id"}},
	},
	"files_thirdparty_account": {
		columns: cols("id", "int", "tenant_id", "int", "user_id", "text", "provider", "text"),
	},
	"files_security": {
		columns: cols("tenant_id", "int", "entry_id", "text", "subject", "text", "security", "int"),
	},
}
