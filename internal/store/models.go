package store

import (
	"strings"
	"time"
)

// GroupStatus is the lifecycle state of a document group.
type GroupStatus int

const (
	GroupDraft           GroupStatus = 1
	GroupIncomplete      GroupStatus = 2
	GroupReady           GroupStatus = 3
	GroupWaitingApproval GroupStatus = 4
	GroupClosed          GroupStatus = 5
)

// CirculationStatus is the state of one evaluation circulation.
type CirculationStatus int

const (
	CirculationNew                    CirculationStatus = 1
	CirculationWaitingChecker         CirculationStatus = 2
	CirculationRevisionFromChecker    CirculationStatus = 3
	CirculationWaitingApproval        CirculationStatus = 4
	CirculationRevisionFromApprover   CirculationStatus = 5
	CirculationWaitingQAChecker       CirculationStatus = 6
	CirculationRevisionFromQAChecker  CirculationStatus = 7
	CirculationWaitingQAApproval      CirculationStatus = 8
	CirculationRevisionFromQAApproval CirculationStatus = 9
	CirculationCompleted              CirculationStatus = 10
)

// TaskStatus is the state of one evaluation task.
type TaskStatus int

const (
	TaskNew               TaskStatus = 1
	TaskPending           TaskStatus = 2
	TaskRevisionRequested TaskStatus = 3
	TaskRevisionForwarded TaskStatus = 4
	TaskDone              TaskStatus = 5
)

// RevisionStatus is the state of a revision request.
type RevisionStatus int

const (
	RevisionNew          RevisionStatus = 1
	RevisionWaitingCheck RevisionStatus = 2
	RevisionDone         RevisionStatus = 3
)

// TaskType names the role a task plays in a circulation.
type TaskType string

const (
	TaskIssued    TaskType = "ISSUED"
	TaskCheck     TaskType = "CHECK"
	TaskApprove   TaskType = "APPROVE"
	TaskQACheck   TaskType = "QA_CHECK"
	TaskQAApprove TaskType = "QA_APPROVE"
)

// ReviewPipeline lists the reviewer task types in the order a circulation visits them.
var ReviewPipeline = []TaskType{TaskCheck, TaskApprove, TaskQACheck, TaskQAApprove}

// ParseTaskType resolves a task type name case-insensitively.
func ParseTaskType(value string) (TaskType, bool) {
	candidate := TaskType(strings.ToUpper(strings.TrimSpace(value)))
	switch candidate {
	case TaskIssued, TaskCheck, TaskApprove, TaskQACheck, TaskQAApprove:
		return candidate, true
	}
	return "", false
}

// DocType classifies an uploaded evidence file.
type DocType string

const (
	DocCOS    DocType = "COS"
	DocPFM    DocType = "PFM"
	DocWGS    DocType = "WGS"
	DocMO     DocType = "MO"
	DocOthers DocType = "OTHERS"
)

var allDocTypes = []DocType{DocCOS, DocPFM, DocWGS, DocMO, DocOthers}

// AllDocTypes returns every accepted upload type.
func AllDocTypes() []DocType {
	return append([]DocType(nil), allDocTypes...)
}

// ParseDocType resolves a declared upload type case-insensitively.
func ParseDocType(value string) (DocType, bool) {
	candidate := DocType(strings.ToUpper(strings.TrimSpace(value)))
	for _, dt := range allDocTypes {
		if dt == candidate {
			return dt, true
		}
	}
	return "", false
}

// Role identifies a user's function. Values match the HR onboarding table.
type Role int

const (
	RoleAdmin      Role = 1
	RoleHR         Role = 2
	RoleIABStaff   Role = 3
	RoleIssuer     Role = 4
	RoleChecker    Role = 5
	RoleApprover   Role = 6
	RoleQAChecker  Role = 7
	RoleQAApprover Role = 8
)

// User is a reference-data row for anyone who acts in the workflow.
type User struct {
	ID        int64
	Username  string
	FirstName string
	FullName  string
	Role      Role
}

// DisplayName prefers the full name, then the first name, then the username.
func (u User) DisplayName() string {
	for _, candidate := range []string{u.FullName, u.FirstName, u.Username} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Operator is a line operator whose certificates accompany a group.
type Operator struct {
	NIK  string
	Name string
	Line string
}

// OperatorCertificate holds a pre-merged certificate PDF, base64 encoded.
type OperatorCertificate struct {
	ID           int64
	NIK          string
	MergedPDF    string
	SourceDigest string
	CreatedAt    time.Time
}

// LinkedOperator is an operator certificate attached to a group.
type LinkedOperator struct {
	LinkID        int64
	CertificateID int64
	NIK           string
	Name          string
	Line          string
	LinkedAt      time.Time
}

// Group is one document group (a single change order sheet).
type Group struct {
	ID        string
	Status    GroupStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy int64
	UpdatedBy int64
}

// Document is an uploaded evidence file. Content is only populated by
// fetches that need the bytes.
type Document struct {
	ID         int64
	GroupID    string
	DocType    DocType
	FileName   string
	MimeType   string
	Content    []byte
	Size       int64
	UploadedAt time.Time
	UploadedBy int64
}

// DocumentInput is the payload of a document upsert.
type DocumentInput struct {
	DocType  DocType
	FileName string
	MimeType string
	Content  []byte
}

// MergedArtifact is the canonical merged PDF for a group.
type MergedArtifact struct {
	ID            int64
	GroupID       string
	Content       []byte
	FragmentCount int
	GeneratedAt   time.Time
}

// Circulation is one evaluation round over a merged artifact.
type Circulation struct {
	ID         int64
	ArtifactID int64
	GroupID    string
	Status     CirculationStatus
	Note       string
	CreatedAt  time.Time
	CreatedBy  int64
	UpdatedAt  time.Time
	UpdatedBy  int64
}

// Issuer returns the user who started the circulation.
func (c Circulation) Issuer() int64 { return c.CreatedBy }

// Task is one role's assignment within a circulation.
type Task struct {
	ID            int64
	CirculationID int64
	Type          TaskType
	Assignee      int64
	Status        TaskStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Revision is a reviewer's request for changes, addressed to the issuer.
type Revision struct {
	ID          int64
	TaskID      int64
	Description string
	FileName    string
	MimeType    string
	FileContent []byte
	HasFile     bool
	Status      RevisionStatus
	CreatedAt   time.Time
	CreatedBy   int64
	GiveTo      int64
	UpdatedAt   time.Time
}
