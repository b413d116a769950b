package catalog

// Node is one entry of a rendered menu tree.
type Node struct {
	Resource Resource `json:"resource"`
	Children []*Node  `json:"children,omitempty"`
}

// BuildTree groups resources into category → page → item, keeping input order.
// A node is kept only when visible reports true for it and for all its ancestors,
// so hiding or disabling a category hides its whole subtree.
func BuildTree(resources []Resource, visible func(Resource) bool) []*Node {
	if visible == nil {
		visible = func(Resource) bool { return true }
	}
	var roots []*Node
	categories := make(map[string]*Node)
	pages := make(map[string]map[string]*Node)

	for _, res := range resources {
		if res.Level != LevelCategory || !visible(res) {
			continue
		}
		if _, dup := categories[res.Category]; dup {
			continue
		}
		node := &Node{Resource: res}
		categories[res.Category] = node
		roots = append(roots, node)
	}
	for _, res := range resources {
		if res.Level != LevelPage || !visible(res) {
			continue
		}
		parent, ok := categories[res.Category]
		if !ok {
			continue
		}
		node := &Node{Resource: res}
		parent.Children = append(parent.Children, node)
		if pages[res.Category] == nil {
			pages[res.Category] = make(map[string]*Node)
		}
		pages[res.Category][res.PageName] = node
	}
	for _, res := range resources {
		if res.Level != LevelItem || !visible(res) {
			continue
		}
		parent, ok := pages[res.Category][res.ParentGroup]
		if !ok {
			continue
		}
		parent.Children = append(parent.Children, &Node{Resource: res})
	}
	return roots
}
