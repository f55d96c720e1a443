package detector

// DefaultClasses are the COCO ids of car, motorcycle, bus and truck.
var DefaultClasses = []int{2, 3, 5, 7}

// ClassSet is the allow-list of object classes. A nil set allows every class.
type ClassSet map[int]struct{}

func buildClassSet(ids []int) ClassSet {
	if len(ids) == 0 {
		return nil
	}
	set := make(ClassSet, len(ids))
	for _, id := range ids {
		if id < 0 {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (s ClassSet) Allowed(classID int) bool {
	if s == nil {
		return true
	}
	_, ok := s[classID]
	return ok
}
