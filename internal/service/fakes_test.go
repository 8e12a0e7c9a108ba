package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// memStore - хранилище в памяти с семантикой реальных репозиториев:
// уникальные индексы, CAS-переходы и транзакционные операции повторяют
// поведение postgres-слоя, поэтому сквозные сценарии гоняются без БД.
type memStore struct {
	mu sync.Mutex

	nextQuizID     uint
	nextQuestionID uint
	nextPartID     uint
	nextRespID     uint
	seq            int

	quizzes      map[uint]*entity.Quiz
	questions    map[uint][]*entity.Question
	participants map[uint]map[string]*memParticipant
	responses    map[uint][]*entity.Response
}

// memParticipant хранит участника вместе с порядковыми номерами входа и
// последнего начисления очков (для разрешения ничьих в таблице лидеров)
type memParticipant struct {
	p        entity.Participant
	joinSeq  int
	scoreSeq int
}

func newMemStore() *memStore {
	return &memStore{
		quizzes:      make(map[uint]*entity.Quiz),
		questions:    make(map[uint][]*entity.Question),
		participants: make(map[uint]map[string]*memParticipant),
		responses:    make(map[uint][]*entity.Response),
	}
}

func cloneQuiz(q *entity.Quiz) *entity.Quiz {
	c := *q
	c.AllowedParticipants = append(entity.StringArray{}, q.AllowedParticipants...)
	c.SharedWith = append(entity.StringArray{}, q.SharedWith...)
	c.Questions = nil
	if q.QuizStartTime != nil {
		t := *q.QuizStartTime
		c.QuizStartTime = &t
	}
	if q.QuestionStartTime != nil {
		t := *q.QuestionStartTime
		c.QuestionStartTime = &t
	}
	return &c
}

func cloneQuestion(q *entity.Question) *entity.Question {
	c := *q
	c.Options = append(entity.StringArray{}, q.Options...)
	c.OptionImages = append(entity.StringArray{}, q.OptionImages...)
	return &c
}

func cloneParticipant(p *entity.Participant) *entity.Participant {
	c := *p
	c.AnsweredQuestions = append(entity.IntArray{}, p.AnsweredQuestions...)
	return &c
}

// ============================================================================
// QuizRepository
// ============================================================================

type memQuizRepo struct{ s *memStore }

func (r *memQuizRepo) Create(quiz *entity.Quiz) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.codeTakenLocked(quiz.Code, 0) {
		return repository.ErrQuizCodeTaken
	}
	r.s.nextQuizID++
	quiz.ID = r.s.nextQuizID
	r.s.quizzes[quiz.ID] = cloneQuiz(quiz)
	return nil
}

func (r *memQuizRepo) CreateWithQuestions(quiz *entity.Quiz, questions []entity.Question) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.codeTakenLocked(quiz.Code, 0) {
		return repository.ErrQuizCodeTaken
	}
	r.s.nextQuizID++
	quiz.ID = r.s.nextQuizID
	quiz.TotalQuestions = len(questions)
	r.s.quizzes[quiz.ID] = cloneQuiz(quiz)
	for i := range questions {
		r.s.nextQuestionID++
		questions[i].ID = r.s.nextQuestionID
		questions[i].QuizID = quiz.ID
		r.s.questions[quiz.ID] = append(r.s.questions[quiz.ID], cloneQuestion(&questions[i]))
	}
	return nil
}

// codeTakenLocked повторяет частичный уникальный индекс по коду:
// занятыми считаются только незавершенные викторины
func (s *memStore) codeTakenLocked(code string, exceptID uint) bool {
	for _, q := range s.quizzes {
		if q.ID != exceptID && q.Code == code && !q.IsEnded() {
			return true
		}
	}
	return false
}

func (r *memQuizRepo) GetByID(id uint) (*entity.Quiz, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneQuiz(q), nil
}

func (r *memQuizRepo) GetByCode(code string) (*entity.Quiz, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, q := range r.s.quizzes {
		if q.Code == code && !q.IsEnded() {
			return cloneQuiz(q), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memQuizRepo) GetWithQuestions(id uint) (*entity.Quiz, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := cloneQuiz(q)
	for _, question := range r.s.sortedQuestionsLocked(id) {
		out.Questions = append(out.Questions, *cloneQuestion(question))
	}
	return out, nil
}

func (s *memStore) sortedQuestionsLocked(quizID uint) []*entity.Question {
	list := append([]*entity.Question{}, s.questions[quizID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	return list
}

func (r *memQuizRepo) ListWithFilters(filters repository.QuizFilters, limit, offset int) ([]entity.Quiz, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []*entity.Quiz
	for _, q := range r.s.quizzes {
		if filters.Status != "" && q.Status != filters.Status {
			continue
		}
		if filters.CreatorEmail != "" && q.CreatorEmail != filters.CreatorEmail {
			continue
		}
		if filters.Search != "" && !strings.Contains(strings.ToLower(q.Title), strings.ToLower(filters.Search)) {
			continue
		}
		matched = append(matched, q)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	if offset >= len(matched) {
		return []entity.Quiz{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]entity.Quiz, 0, end-offset)
	for _, q := range matched[offset:end] {
		out = append(out, *cloneQuiz(q))
	}
	return out, total, nil
}

func (r *memQuizRepo) UpdateTitle(quizID uint, title string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	q.Title = title
	return nil
}

func (r *memQuizRepo) UpdateAccess(quizID uint, isRestricted bool, allowed entity.StringArray) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	q.IsRestricted = isRestricted
	q.AllowedParticipants = append(entity.StringArray{}, allowed...)
	return nil
}

func (r *memQuizRepo) UpdateSharedWith(quizID uint, shared entity.StringArray) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	q.SharedWith = append(entity.StringArray{}, shared...)
	return nil
}

func (r *memQuizRepo) AtomicPrepare(quizID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !q.IsDraft() && !q.IsWaiting() {
		return repository.ErrStaleQuizState
	}
	q.Status = entity.QuizStatusWaiting
	q.CurrentQuestionIndex = -1
	q.QuizStartTime = nil
	q.QuestionStartTime = nil
	return nil
}

func (r *memQuizRepo) AtomicAdvance(quizID uint, expectedIndex int, startedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if (!q.IsWaiting() && !q.IsLive()) || q.CurrentQuestionIndex != expectedIndex {
		return repository.ErrStaleQuizState
	}
	q.Status = entity.QuizStatusLive
	q.CurrentQuestionIndex = expectedIndex + 1
	t := startedAt
	q.QuestionStartTime = &t
	if q.QuizStartTime == nil {
		q.QuizStartTime = &t
	}
	return nil
}

func (r *memQuizRepo) AtomicStartSelfPaced(quizID uint, startedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !q.IsWaiting() {
		return repository.ErrStaleQuizState
	}
	q.Status = entity.QuizStatusLive
	q.CurrentQuestionIndex = 0
	t := startedAt
	q.QuizStartTime = &t
	return nil
}

func (r *memQuizRepo) AtomicFinish(quizID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !q.IsLive() {
		return repository.ErrStaleQuizState
	}
	q.Status = entity.QuizStatusEnded
	return nil
}

func (r *memQuizRepo) ResetForRestart(quizID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if q.IsDraft() {
		return repository.ErrStaleQuizState
	}
	q.Status = entity.QuizStatusWaiting
	q.CurrentQuestionIndex = -1
	q.QuizStartTime = nil
	q.QuestionStartTime = nil
	delete(r.s.participants, quizID)
	delete(r.s.responses, quizID)
	return nil
}

func (r *memQuizRepo) Delete(id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.quizzes[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.quizzes, id)
	delete(r.s.questions, id)
	delete(r.s.participants, id)
	delete(r.s.responses, id)
	return nil
}

// ============================================================================
// QuestionRepository
// ============================================================================

type memQuestionRepo struct{ s *memStore }

func (r *memQuestionRepo) Create(question *entity.Question) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quizzes[question.QuizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	r.s.nextQuestionID++
	question.ID = r.s.nextQuestionID
	r.s.questions[question.QuizID] = append(r.s.questions[question.QuizID], cloneQuestion(question))
	q.TotalQuestions++
	return nil
}

func (r *memQuestionRepo) GetByQuizAndIndex(quizID uint, index int) (*entity.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, q := range r.s.questions[quizID] {
		if q.Index == index {
			return cloneQuestion(q), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memQuestionRepo) GetByQuizID(quizID uint) ([]entity.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.Question
	for _, q := range r.s.sortedQuestionsLocked(quizID) {
		out = append(out, *cloneQuestion(q))
	}
	return out, nil
}

func (r *memQuestionRepo) Update(question *entity.Question) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, q := range r.s.questions[question.QuizID] {
		if q.ID == question.ID {
			r.s.questions[question.QuizID][i] = cloneQuestion(question)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memQuestionRepo) DeleteAndReindex(quizID uint, index int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	quiz, ok := r.s.quizzes[quizID]
	if !ok {
		return apperrors.ErrNotFound
	}
	list := r.s.questions[quizID]
	found := false
	out := list[:0]
	for _, q := range list {
		if q.Index == index {
			found = true
			continue
		}
		if q.Index > index {
			q.Index--
		}
		out = append(out, q)
	}
	if !found {
		return apperrors.ErrNotFound
	}
	r.s.questions[quizID] = out
	if quiz.TotalQuestions > 0 {
		quiz.TotalQuestions--
	}
	return nil
}

func (r *memQuestionRepo) CountByQuiz(quizID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.questions[quizID])), nil
}

// ============================================================================
// ParticipantRepository
// ============================================================================

type memParticipantRepo struct{ s *memStore }

func (r *memParticipantRepo) Create(participant *entity.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byUser := r.s.participants[participant.QuizID]
	if byUser == nil {
		byUser = make(map[string]*memParticipant)
		r.s.participants[participant.QuizID] = byUser
	}
	if _, dup := byUser[participant.UserID]; dup {
		return repository.ErrParticipantExists
	}
	r.s.nextPartID++
	participant.ID = r.s.nextPartID
	r.s.seq++
	byUser[participant.UserID] = &memParticipant{p: *cloneParticipant(participant), joinSeq: r.s.seq}
	return nil
}

func (r *memParticipantRepo) GetByQuizAndUser(quizID uint, userID string) (*entity.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	mp, ok := r.s.participants[quizID][userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneParticipant(&mp.p), nil
}

func (r *memParticipantRepo) ListByQuiz(quizID uint, limit, offset int) ([]entity.Participant, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	list := make([]*memParticipant, 0, len(r.s.participants[quizID]))
	for _, mp := range r.s.participants[quizID] {
		list = append(list, mp)
	}
	// Очки по убыванию; при равенстве выше тот, кто набрал их раньше
	sort.Slice(list, func(i, j int) bool {
		if list[i].p.Score != list[j].p.Score {
			return list[i].p.Score > list[j].p.Score
		}
		if list[i].scoreSeq != list[j].scoreSeq {
			return list[i].scoreSeq < list[j].scoreSeq
		}
		return list[i].joinSeq < list[j].joinSeq
	})

	total := int64(len(list))
	if offset >= len(list) {
		return []entity.Participant{}, total, nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	out := make([]entity.Participant, 0, end-offset)
	for _, mp := range list[offset:end] {
		out = append(out, *cloneParticipant(&mp.p))
	}
	return out, total, nil
}

func (r *memParticipantRepo) CountByQuiz(quizID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.participants[quizID])), nil
}

func (r *memParticipantRepo) ApplyAnswer(response *entity.Response) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	mp, ok := r.s.participants[response.QuizID][response.UserID]
	if !ok {
		return apperrors.ErrNotFound
	}
	for _, existing := range r.s.responses[response.QuizID] {
		if existing.UserID == response.UserID && existing.QuestionIndex == response.QuestionIndex {
			return repository.ErrDuplicateAnswer
		}
	}
	r.s.nextRespID++
	response.ID = r.s.nextRespID
	stored := *response
	r.s.responses[response.QuizID] = append(r.s.responses[response.QuizID], &stored)

	mp.p.Score += response.Points
	mp.p.AnsweredQuestions = append(mp.p.AnsweredQuestions, response.QuestionIndex)
	r.s.seq++
	mp.scoreSeq = r.s.seq
	return nil
}

// ============================================================================
// ResponseRepository
// ============================================================================

type memResponseRepo struct{ s *memStore }

func (r *memResponseRepo) GetByQuizAndUser(quizID uint, userID string) ([]entity.Response, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.Response
	for _, resp := range r.s.responses[quizID] {
		if resp.UserID == userID {
			out = append(out, *resp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out, nil
}

func (r *memResponseRepo) GetByQuiz(quizID uint) ([]entity.Response, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.Response
	for _, resp := range r.s.responses[quizID] {
		out = append(out, *resp)
	}
	return out, nil
}

func (r *memResponseRepo) CountByOption(quizID uint, questionIndex int) ([]repository.OptionCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tally := make(map[int]int64)
	for _, resp := range r.s.responses[quizID] {
		if resp.QuestionIndex == questionIndex {
			tally[resp.SelectedOption]++
		}
	}
	options := make([]int, 0, len(tally))
	for opt := range tally {
		options = append(options, opt)
	}
	sort.Ints(options)
	out := make([]repository.OptionCount, 0, len(options))
	for _, opt := range options {
		out = append(out, repository.OptionCount{SelectedOption: opt, Count: tally[opt]})
	}
	return out, nil
}

func (r *memResponseRepo) CountByQuiz(quizID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.responses[quizID])), nil
}
