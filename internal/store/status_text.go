package store

import (
	"fmt"
	"strconv"
	"strings"
)

type statusDisplay struct {
	text string
	tone string
}

var groupStatusDisplay = map[GroupStatus]statusDisplay{
	GroupDraft:           {text: "Draft", tone: "gray"},
	GroupIncomplete:      {text: "Incomplete", tone: "orange"},
	GroupReady:           {text: "Complete - Ready to Approve", tone: "green"},
	GroupWaitingApproval: {text: "Complete - Waiting to Approval", tone: "blue"},
	GroupClosed:          {text: "Closed", tone: "red"},
}

// String returns the display text for the status.
func (s GroupStatus) String() string {
	if d, ok := groupStatusDisplay[s]; ok {
		return d.text
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

// Tone returns the colour hint used by list views.
func (s GroupStatus) Tone() string {
	if d, ok := groupStatusDisplay[s]; ok {
		return d.tone
	}
	return "gray"
}

// Valid reports whether s is a known group status.
func (s GroupStatus) Valid() bool {
	_, ok := groupStatusDisplay[s]
	return ok
}

var circulationStatusText = map[CirculationStatus]string{
	CirculationNew:                    "New",
	CirculationWaitingChecker:         "Waiting Checker",
	CirculationRevisionFromChecker:    "Need Revision from Checker",
	CirculationWaitingApproval:        "Waiting Approval",
	CirculationRevisionFromApprover:   "Need Revision from Approver",
	CirculationWaitingQAChecker:       "Waiting QA Check",
	CirculationRevisionFromQAChecker:  "Need Revision from QA Check",
	CirculationWaitingQAApproval:      "Waiting QA Approval",
	CirculationRevisionFromQAApproval: "Need Revision from QA Approval",
	CirculationCompleted:              "Completed",
}

func (s CirculationStatus) String() string {
	if text, ok := circulationStatusText[s]; ok {
		return text
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

// Valid reports whether s is one of the ten circulation states.
func (s CirculationStatus) Valid() bool {
	_, ok := circulationStatusText[s]
	return ok
}

var taskStatusText = map[TaskStatus]string{
	TaskNew:               "New",
	TaskPending:           "Pending",
	TaskRevisionRequested: "Revision Requested",
	TaskRevisionForwarded: "Revision Forwarded to Issuer",
	TaskDone:              "Done",
}

func (s TaskStatus) String() string {
	if text, ok := taskStatusText[s]; ok {
		return text
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

var revisionStatusText = map[RevisionStatus]string{
	RevisionNew:          "New",
	RevisionWaitingCheck: "Waiting Check",
	RevisionDone:         "Done",
}

func (s RevisionStatus) String() string {
	if text, ok := revisionStatusText[s]; ok {
		return text
	}
	return fmt.Sprintf("Unknown (%d)", int(s))
}

var roleNames = map[Role]string{
	RoleAdmin:      "Admin",
	RoleHR:         "HR",
	RoleIABStaff:   "IAB Staff",
	RoleIssuer:     "Issuer",
	RoleChecker:    "Checker",
	RoleApprover:   "PDM Approver",
	RoleQAChecker:  "QA Checker",
	RoleQAApprover: "QA Approver",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role %d", int(r))
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole resolves a role from its id or its name, ignoring case and separators.
// "approver" is accepted for the PDM approver.
func ParseRole(value string) (Role, bool) {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		r := Role(n)
		return r, r.Valid()
	}
	key := roleKey(value)
	if key == "approver" {
		return RoleApprover, true
	}
	for r, name := range roleNames {
		if roleKey(name) == key {
			return r, true
		}
	}
	return 0, false
}

func roleKey(value string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(value))
}

// eligibleRoles lists which roles may be assigned each reviewer task.
var eligibleRoles = map[TaskType][]Role{
	TaskCheck:     {RoleChecker, RoleApprover},
	TaskApprove:   {RoleApprover},
	TaskQACheck:   {RoleQAChecker, RoleQAApprover},
	TaskQAApprove: {RoleQAApprover},
}

// EligibleRoles returns the roles that may hold a task of type t.
func EligibleRoles(t TaskType) []Role {
	return append([]Role(nil), eligibleRoles[t]...)
}
