// Package hierarchy validates parent changes in the project tree. The
// cycle check is application logic on purpose: the schema carries no
// self-parent constraint, so nothing below this package enforces it.
package hierarchy

import (
	"context"
	"fmt"

	"questline/internal/domain"
	"questline/internal/repo"
)

// CircularReferenceError rejects a parent that is (transitively) the
// project itself.
type CircularReferenceError struct {
	ProjectID string
	ParentID  string
}

func (e CircularReferenceError) Error() string {
	return fmt.Sprintf("parenting %s under %s would create a cycle", e.ProjectID, e.ParentID)
}

// MaxDepthExceededError rejects a tree deeper than the configured bound.
type MaxDepthExceededError struct {
	Depth    int
	MaxDepth int
}

func (e MaxDepthExceededError) Error() string {
	return fmt.Sprintf("hierarchy depth %d exceeds maximum %d", e.Depth, e.MaxDepth)
}

// CrossCampaignParentError rejects a parent from another campaign.
type CrossCampaignParentError struct {
	ProjectCampaignID string
	ParentCampaignID  string
}

func (e CrossCampaignParentError) Error() string {
	return fmt.Sprintf("parent belongs to campaign %s, project to %s", e.ParentCampaignID, e.ProjectCampaignID)
}

type Validator struct {
	Repo     repo.Repo
	MaxDepth int
}

// ValidateParent decides whether setting project.ParentID to
// candidateParentID keeps the tree acyclic and within the depth bound.
// parentID == nil promotes to root, which cannot create a cycle but is
// still subject to the depth check for the subtree being moved.
func (v Validator) ValidateParent(ctx context.Context, project domain.Project, parentID *string) error {
	subtreeDepth, err := v.Repo.MaxSubtreeDepth(ctx, project.ID, v.MaxDepth+1)
	if err != nil {
		return err
	}
	if parentID == nil {
		if subtreeDepth+1 > v.MaxDepth {
			return MaxDepthExceededError{Depth: subtreeDepth + 1, MaxDepth: v.MaxDepth}
		}
		return nil
	}
	// Self-parenting is the degenerate cycle; O(1), checked first.
	if *parentID == project.ID {
		return CircularReferenceError{ProjectID: project.ID, ParentID: *parentID}
	}
	parent, err := v.Repo.GetProject(ctx, *parentID)
	if err != nil {
		return err
	}
	if parent.CampaignID != project.CampaignID {
		return CrossCampaignParentError{ProjectCampaignID: project.CampaignID, ParentCampaignID: parent.CampaignID}
	}
	ancestors, err := v.Repo.Ancestors(ctx, parent.ID, v.MaxDepth+1)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a.ID == project.ID {
			return CircularReferenceError{ProjectID: project.ID, ParentID: *parentID}
		}
	}
	// depth(parent) + the edge to project + the longest chain below it.
	total := len(ancestors) + 1 + subtreeDepth + 1
	if total > v.MaxDepth {
		return MaxDepthExceededError{Depth: total, MaxDepth: v.MaxDepth}
	}
	return nil
}

// ValidateNew covers creation: the project has no subtree yet, so only
// the parent's depth and campaign matter.
func (v Validator) ValidateNew(ctx context.Context, campaignID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	parent, err := v.Repo.GetProject(ctx, *parentID)
	if err != nil {
		return err
	}
	if parent.CampaignID != campaignID {
		return CrossCampaignParentError{ProjectCampaignID: campaignID, ParentCampaignID: parent.CampaignID}
	}
	depth, err := v.Repo.Depth(ctx, parent.ID, v.MaxDepth+1)
	if err != nil {
		return err
	}
	if depth+1+1 > v.MaxDepth {
		return MaxDepthExceededError{Depth: depth + 2, MaxDepth: v.MaxDepth}
	}
	return nil
}
