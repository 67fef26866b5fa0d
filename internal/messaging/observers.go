package messaging

// observerList keeps observers in registration order. Notification walks a
// snapshot and skips observers removed by an earlier callback.
type observerList[T comparable] struct {
	observers []T
}

func (list *observerList[T]) add(observer T) {
	if list.has(observer) {
		return
	}
	list.observers = append(list.observers, observer)
}

func (list *observerList[T]) remove(observer T) {
	for index, existing := range list.observers {
		if existing == observer {
			list.observers = append(list.observers[:index:index], list.observers[index+1:]...)
			return
		}
	}
}

func (list *observerList[T]) has(observer T) bool {
	for _, existing := range list.observers {
		if existing == observer {
			return true
		}
	}
	return false
}

func (list *observerList[T]) len() int {
	return len(list.observers)
}

func (list *observerList[T]) notify(fn func(T)) {
	snapshot := append([]T(nil), list.observers...)
	for _, observer := range snapshot {
		if !list.has(observer) {
			continue
		}
		fn(observer)
	}
}
