package middle

import "context"

// WaysUsingNode satisfies depend.BackrefSource, wrapping the slim
// backend's nodes-array query.
func (m *MiddleStore) WaysUsingNode(ctx context.Context, nodeID int64) ([]int64, error) {
	return m.GetWaysForNode(ctx, nodeID)
}

// RelationsUsingWay satisfies depend.BackrefSource, wrapping the slim
// backend's member-containment query for way members.
func (m *MiddleStore) RelationsUsingWay(ctx context.Context, wayID int64) ([]int64, error) {
	return m.GetRelationsForMember(ctx, "w", wayID)
}
