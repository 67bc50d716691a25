package systems

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/simerr"
)

// Member is what the registry records about an organism when it joins.
// The recorded values are what it retracts on leave, so the engine must
// route later trait changes through ChangeMatingType and UpdateIntolerance.
type Member struct {
	Entity      ecs.Entity
	MatingType  components.MatingType
	Intolerance components.Intolerance
}

// Group is one registered group and its incrementally maintained counts.
type Group struct {
	ID int

	members []Member // join order
	pos     map[ecs.Entity]int

	counts [components.NumMatingTypes]int

	immigrants       Accumulator
	immigrantsByType [components.NumMatingTypes]Accumulator
	ownOffspring     Accumulator
	otherOffspring   Accumulator
}

func newGroup(id int) *Group {
	return &Group{ID: id, pos: make(map[ecs.Entity]int)}
}

func (g *Group) add(m Member) {
	g.pos[m.Entity] = len(g.members)
	g.members = append(g.members, m)
	g.counts[m.MatingType]++
	g.record(m, 1)
}

func (g *Group) remove(e ecs.Entity) Member {
	i := g.pos[e]
	m := g.members[i]
	// Preserve join order; groups are small relative to the grid.
	g.members = slices.Delete(g.members, i, i+1)
	delete(g.pos, e)
	for j := i; j < len(g.members); j++ {
		g.pos[g.members[j].Entity] = j
	}
	g.counts[m.MatingType]--
	g.record(m, -1)
	return m
}

// record adds (sign=1) or retracts (sign=-1) a member's samples.
func (g *Group) record(m Member, sign int) {
	tol := m.Intolerance
	if sign > 0 {
		g.immigrants.Add(tol.Immigrants)
		g.immigrantsByType[m.MatingType].Add(tol.Immigrants)
		g.ownOffspring.Add(tol.OwnOffspring)
		g.otherOffspring.Add(tol.OtherOffspring)
		return
	}
	g.immigrants.Remove(tol.Immigrants)
	g.immigrantsByType[m.MatingType].Remove(tol.Immigrants)
	g.ownOffspring.Remove(tol.OwnOffspring)
	g.otherOffspring.Remove(tol.OtherOffspring)
}

// GroupInfo is a read-only summary of one group.
type GroupInfo struct {
	ID             int     `json:"id" csv:"group"`
	Size           int     `json:"size" csv:"size"`
	Females        int     `json:"females" csv:"females"`
	Males          int     `json:"males" csv:"males"`
	Juveniles      int     `json:"juveniles" csv:"juveniles"`
	Undefined      int     `json:"undefined" csv:"undefined"`
	ImmigrantMean  float64 `json:"immigrant_mean" csv:"immigrant_mean"`
	ImmigrantSDev  float64 `json:"immigrant_sdev" csv:"immigrant_sdev"`
	ImmigrantOdds  float64 `json:"immigrant_odds" csv:"immigrant_odds"`
	OwnOffspring   float64 `json:"own_offspring_mean" csv:"own_offspring_mean"`
	OtherOffspring float64 `json:"other_offspring_mean" csv:"other_offspring_mean"`
}

// GroupRegistry maintains group membership and tolerance statistics.
// Groups are addressed by integer id; membership is keyed by entity.
// Emptied groups stay registered until DeleteGroup.
type GroupRegistry struct {
	groups         map[int]*Group
	memberOf       map[ecs.Entity]int
	nextID         int
	maxTolerance   int
	varianceWeight float64
}

// NewGroupRegistry creates an empty registry.
func NewGroupRegistry(maxTolerance int, varianceWeight float64) *GroupRegistry {
	return &GroupRegistry{
		groups:         make(map[int]*Group),
		memberOf:       make(map[ecs.Entity]int),
		maxTolerance:   max(maxTolerance, 1),
		varianceWeight: varianceWeight,
	}
}

// MaxTolerance returns the configured tolerance ceiling.
func (r *GroupRegistry) MaxTolerance() int { return r.maxTolerance }

// MakeGroup registers a fresh, empty group and returns its id.
func (r *GroupRegistry) MakeGroup() int {
	for {
		id := r.nextID
		r.nextID++
		if _, taken := r.groups[id]; !taken {
			r.groups[id] = newGroup(id)
			return id
		}
	}
}

// EnsureGroup registers id if it is not already registered.
func (r *GroupRegistry) EnsureGroup(id int) {
	if _, ok := r.groups[id]; !ok {
		r.groups[id] = newGroup(id)
	}
}

// HasGroup reports whether id is registered.
func (r *GroupRegistry) HasGroup(id int) bool {
	_, ok := r.groups[id]
	return ok
}

// DeleteGroup unregisters an empty group.
func (r *GroupRegistry) DeleteGroup(id int) error {
	g, ok := r.groups[id]
	if !ok {
		return groupError("unknown group", id)
	}
	if len(g.members) > 0 {
		return groupError("cannot delete non-empty group", id)
	}
	delete(r.groups, id)
	return nil
}

// JoinGroup adds m to group id. The organism must not already be in a group.
func (r *GroupRegistry) JoinGroup(id int, m Member) error {
	g, ok := r.groups[id]
	if !ok {
		return groupError("unknown group", id)
	}
	if cur, in := r.memberOf[m.Entity]; in {
		return simerr.WithMetadata(simerr.CodePrecondition,
			fmt.Sprintf("organism already in group %d", cur),
			map[string]string{"group": strconv.Itoa(cur)})
	}
	g.add(m)
	r.memberOf[m.Entity] = id
	return nil
}

// LeaveGroup removes e from its group. Returns the group id it left.
func (r *GroupRegistry) LeaveGroup(e ecs.Entity) (int, bool) {
	id, ok := r.memberOf[e]
	if !ok {
		return components.NoGroup, false
	}
	r.groups[id].remove(e)
	delete(r.memberOf, e)
	return id, true
}

// GroupOf returns the group e belongs to.
func (r *GroupRegistry) GroupOf(e ecs.Entity) (int, bool) {
	id, ok := r.memberOf[e]
	return id, ok
}

// ChangeMatingType moves e between mating-type sub-counts.
func (r *GroupRegistry) ChangeMatingType(e ecs.Entity, mt components.MatingType) bool {
	id, ok := r.memberOf[e]
	if !ok {
		return false
	}
	g := r.groups[id]
	m := g.members[g.pos[e]]
	g.record(m, -1)
	g.counts[m.MatingType]--
	m.MatingType = mt
	g.counts[mt]++
	g.record(m, 1)
	g.members[g.pos[e]] = m
	return true
}

// UpdateIntolerance replaces the samples e contributes to its group.
func (r *GroupRegistry) UpdateIntolerance(e ecs.Entity, tol components.Intolerance) bool {
	id, ok := r.memberOf[e]
	if !ok {
		return false
	}
	g := r.groups[id]
	m := g.members[g.pos[e]]
	g.record(m, -1)
	m.Intolerance = tol
	g.record(m, 1)
	g.members[g.pos[e]] = m
	return true
}

// NumberOfOrganismsInGroup returns the member count, 0 for unknown groups.
func (r *GroupRegistry) NumberOfOrganismsInGroup(id int) int {
	if g, ok := r.groups[id]; ok {
		return len(g.members)
	}
	return 0
}

// NumberGroupFemales returns the number of female members.
func (r *GroupRegistry) NumberGroupFemales(id int) int {
	return r.count(id, components.MatingFemale)
}

// NumberGroupMales returns the number of male members.
func (r *GroupRegistry) NumberGroupMales(id int) int {
	return r.count(id, components.MatingMale)
}

// NumberGroupJuvs returns the number of juvenile members.
func (r *GroupRegistry) NumberGroupJuvs(id int) int {
	return r.count(id, components.MatingJuvenile)
}

// NumberGroupUndefined returns the number of members without a mating type.
func (r *GroupRegistry) NumberGroupUndefined(id int) int {
	return r.count(id, components.MatingUndefined)
}

func (r *GroupRegistry) count(id int, mt components.MatingType) int {
	if g, ok := r.groups[id]; ok {
		return g.counts[mt]
	}
	return 0
}

// Members returns a copy of the group's members in join order.
func (r *GroupRegistry) Members(id int) []ecs.Entity {
	g, ok := r.groups[id]
	if !ok {
		return nil
	}
	out := make([]ecs.Entity, len(g.members))
	for i, m := range g.members {
		out[i] = m.Entity
	}
	return out
}

// GetFormedGroups returns the ids of groups with at least one member, ascending.
func (r *GroupRegistry) GetFormedGroups() []int {
	var ids []int
	for id, g := range r.groups {
		if len(g.members) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// AllGroups returns every registered id, ascending, including empty groups.
func (r *GroupRegistry) AllGroups() []int {
	ids := make([]int, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *GroupRegistry) immigrantAcc(id int, mt components.MatingType) (Accumulator, bool) {
	g, ok := r.groups[id]
	if !ok {
		return Accumulator{}, false
	}
	if mt == components.MatingAny {
		return g.immigrants, true
	}
	return g.immigrantsByType[mt], true
}

// CalcGroupOddsImmigrants returns the probability that an immigrant of the
// given mating type is admitted. Only members of that mating type are
// considered, or all members for MatingAny. A group with no relevant
// members admits with probability 1; unknown groups with 0.
func (r *GroupRegistry) CalcGroupOddsImmigrants(id int, mt components.MatingType) float64 {
	acc, ok := r.immigrantAcc(id, mt)
	if !ok {
		return 0
	}
	return admissionOdds(acc, r.maxTolerance, r.varianceWeight)
}

// CalcGroupOddsOffspring returns the probability that a newborn of parent
// is retained in the parent's group: the parent's own-offspring
// intolerance plus every other member's other-offspring intolerance,
// against the tolerance ceiling. A groupless parent yields 0.
func (r *GroupRegistry) CalcGroupOddsOffspring(parent ecs.Entity) float64 {
	id, ok := r.memberOf[parent]
	if !ok {
		return 0
	}
	g := r.groups[id]
	p := g.members[g.pos[parent]]
	intolerance := int64(p.Intolerance.OwnOffspring) +
		g.otherOffspring.Sum - int64(p.Intolerance.OtherOffspring)
	return clamp01(float64(int64(r.maxTolerance)-intolerance) / float64(r.maxTolerance))
}

// AttemptImmigrateGroup draws against the immigrant odds for m's mating
// type. On acceptance m leaves its current group, if any, and joins id. On
// rejection nothing changes.
func (r *GroupRegistry) AttemptImmigrateGroup(id int, m Member, rng *rand.Rand) (bool, error) {
	if !r.HasGroup(id) {
		return false, groupError("unknown group", id)
	}
	if cur, in := r.memberOf[m.Entity]; in && cur == id {
		return true, nil
	}
	odds := r.CalcGroupOddsImmigrants(id, m.MatingType)
	if rng.Float64() >= odds {
		return false, nil
	}
	if _, in := r.memberOf[m.Entity]; in {
		r.LeaveGroup(m.Entity)
	}
	return true, r.JoinGroup(id, m)
}

// AttemptOffspringParentGroup draws against the parent's offspring odds.
// On acceptance the offspring joins the parent's group; on rejection it
// stays groupless.
func (r *GroupRegistry) AttemptOffspringParentGroup(parent ecs.Entity, offspring Member, rng *rand.Rand) bool {
	id, ok := r.memberOf[parent]
	if !ok {
		return false
	}
	odds := r.CalcGroupOddsOffspring(parent)
	if rng.Float64() >= odds {
		return false
	}
	return r.JoinGroup(id, offspring) == nil
}

// PickMember chooses uniformly among the members of id other than
// excluding. It fails when the group has at most one member.
func (r *GroupRegistry) PickMember(id int, excluding ecs.Entity, rng *rand.Rand) (ecs.Entity, bool) {
	g, ok := r.groups[id]
	if !ok || len(g.members) <= 1 {
		return ecs.Entity{}, false
	}
	n := len(g.members)
	if _, in := g.pos[excluding]; in {
		n--
	}
	if n == 0 {
		return ecs.Entity{}, false
	}
	k := rng.IntN(n)
	for _, m := range g.members {
		if m.Entity == excluding {
			continue
		}
		if k == 0 {
			return m.Entity, true
		}
		k--
	}
	return ecs.Entity{}, false
}

// CalcGroupAveImmigrants returns the mean immigrant intolerance of members
// of the given mating type (or all members for MatingAny).
func (r *GroupRegistry) CalcGroupAveImmigrants(id int, mt components.MatingType) float64 {
	acc, _ := r.immigrantAcc(id, mt)
	return acc.Mean()
}

// CalcGroupSDevImmigrants returns the standard deviation of immigrant intolerance.
func (r *GroupRegistry) CalcGroupSDevImmigrants(id int, mt components.MatingType) float64 {
	acc, _ := r.immigrantAcc(id, mt)
	return acc.StdDev()
}

// CalcGroupAveOwn returns the mean own-offspring intolerance.
func (r *GroupRegistry) CalcGroupAveOwn(id int) float64 {
	if g, ok := r.groups[id]; ok {
		return g.ownOffspring.Mean()
	}
	return 0
}

// CalcGroupSDevOwn returns the standard deviation of own-offspring intolerance.
func (r *GroupRegistry) CalcGroupSDevOwn(id int) float64 {
	if g, ok := r.groups[id]; ok {
		return g.ownOffspring.StdDev()
	}
	return 0
}

// CalcGroupAveOthers returns the mean other-offspring intolerance.
func (r *GroupRegistry) CalcGroupAveOthers(id int) float64 {
	if g, ok := r.groups[id]; ok {
		return g.otherOffspring.Mean()
	}
	return 0
}

// CalcGroupSDevOthers returns the standard deviation of other-offspring intolerance.
func (r *GroupRegistry) CalcGroupSDevOthers(id int) float64 {
	if g, ok := r.groups[id]; ok {
		return g.otherOffspring.StdDev()
	}
	return 0
}

// Info summarises one group.
func (r *GroupRegistry) Info(id int) (GroupInfo, bool) {
	g, ok := r.groups[id]
	if !ok {
		return GroupInfo{}, false
	}
	return GroupInfo{
		ID:             id,
		Size:           len(g.members),
		Females:        g.counts[components.MatingFemale],
		Males:          g.counts[components.MatingMale],
		Juveniles:      g.counts[components.MatingJuvenile],
		Undefined:      g.counts[components.MatingUndefined],
		ImmigrantMean:  g.immigrants.Mean(),
		ImmigrantSDev:  g.immigrants.StdDev(),
		ImmigrantOdds:  admissionOdds(g.immigrants, r.maxTolerance, r.varianceWeight),
		OwnOffspring:   g.ownOffspring.Mean(),
		OtherOffspring: g.otherOffspring.Mean(),
	}, true
}

// Snapshot summarises every registered group, ascending by id.
func (r *GroupRegistry) Snapshot() []GroupInfo {
	ids := r.AllGroups()
	out := make([]GroupInfo, 0, len(ids))
	for _, id := range ids {
		info, _ := r.Info(id)
		out = append(out, info)
	}
	return out
}

// Check verifies that every group's counts agree with its member set and
// that the membership index agrees in both directions.
func (r *GroupRegistry) Check() error {
	total := 0
	for id, g := range r.groups {
		sum := 0
		for _, c := range g.counts {
			sum += c
		}
		if sum != len(g.members) || len(g.pos) != len(g.members) || g.immigrants.N != len(g.members) {
			return groupError(fmt.Sprintf("count mismatch: members=%d subcounts=%d", len(g.members), sum), id)
		}
		for _, m := range g.members {
			if r.memberOf[m.Entity] != id {
				return groupError("member index disagrees with group", id)
			}
		}
		total += len(g.members)
	}
	if total != len(r.memberOf) {
		return simerr.New(simerr.CodePrecondition,
			fmt.Sprintf("membership index holds %d organisms, groups hold %d", len(r.memberOf), total))
	}
	return nil
}

// Reset drops every group and membership.
func (r *GroupRegistry) Reset() {
	r.groups = make(map[int]*Group)
	r.memberOf = make(map[ecs.Entity]int)
	r.nextID = 0
}

func groupError(msg string, id int) error {
	return simerr.WithMetadata(simerr.CodePrecondition,
		fmt.Sprintf("%s: %d", msg, id),
		map[string]string{"group": strconv.Itoa(id)})
}
