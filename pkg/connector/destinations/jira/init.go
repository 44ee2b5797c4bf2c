// Package jira provides a destination that creates one Jira issue per
// record through the REST API v2.
//
// Payloads are built from the record with field_mapping. summary and
// description default to the record's name and description; project and
// issuetype are always set from project_key and issue_type.
package jira

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"
)

func init() {
	if err := registry.RegisterDestination("jira", NewJiraDestination); err != nil {
		panic(err)
	}
}
